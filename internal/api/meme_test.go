package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/meme"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBoard struct {
	id         int
	images     [][]byte
	urls       []string
	remoteAddr string
	since      time.Time
}

func (b *fakeBoard) UpdateFromBytes(_ context.Context, img []byte, remoteAddr string) (int, error) {
	if len(img) == 0 {
		return 0, apperrors.ValidationError("image is empty", nil)
	}
	b.id++
	b.images = append(b.images, img)
	b.remoteAddr = remoteAddr
	return b.id, nil
}

func (b *fakeBoard) UpdateFromURL(ctx context.Context, rawURL, remoteAddr string) (int, error) {
	b.urls = append(b.urls, rawURL)
	return b.UpdateFromBytes(ctx, []byte("downloaded"), remoteAddr)
}

func (b *fakeBoard) Status(_ context.Context, body string) ([]byte, error) {
	if !strings.Contains(body, " ") {
		return nil, apperrors.ValidationError("expected chunk for kindle_meme_id but got nothing", nil)
	}
	return []byte("3\nPNG"), nil
}

func (b *fakeBoard) BatteryHistory(since time.Time) ([]meme.BatteryReading, error) {
	b.since = since
	return []meme.BatteryReading{{Date: "2024-01-02T00:00:00.000Z", Percent: 80}}, nil
}

func setupMeme() (*fakeBoard, http.Handler, time.Time) {
	board := &fakeBoard{}
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	h := NewMemeHandler(board, nil)
	h.now = func() time.Time { return now }
	return board, NewRouter(Handlers{Meme: h}), now
}

func TestMemeHandler_Update(t *testing.T) {
	board, router, _ := setupMeme()

	req := httptest.NewRequest(http.MethodPost, "/meme", strings.NewReader("image-bytes"))
	req.RemoteAddr = "198.51.100.4:4000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Meme-ID"))
	assert.Equal(t, "198.51.100.4", board.remoteAddr)
	require.Len(t, board.images, 1)
	assert.Equal(t, "image-bytes", string(board.images[0]))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/meme", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemeHandler_UpdateFromURL(t *testing.T) {
	board, router, _ := setupMeme()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/meme/url", strings.NewReader("https://example.com/cat.png")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://example.com/cat.png"}, board.urls)
}

func TestMemeHandler_Status(t *testing.T) {
	_, router, _ := setupMeme()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "out of date", body: "80 2", wantStatus: http.StatusOK, wantBody: "3\nPNG"},
		{name: "malformed", body: "80", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/meme/status", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
				assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestMemeHandler_Battery(t *testing.T) {
	board, router, now := setupMeme()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/battery?limit=7d", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, now.Add(-7*24*time.Hour), board.since)

	var readings []meme.BatteryReading
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&readings))
	require.Len(t, readings, 1)
	assert.Equal(t, int64(80), readings[0].Percent)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/battery", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, board.since.IsZero())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/battery?limit=soon", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
