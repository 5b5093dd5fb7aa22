package meme

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagFormatter marks its output so tests can tell which step produced a
// file.
type tagFormatter struct {
	fail string
}

func (f tagFormatter) step(name string, img []byte) ([]byte, error) {
	if f.fail == name {
		return nil, fmt.Errorf("%s failed", name)
	}
	return append([]byte(name+":"), img...), nil
}

func (f tagFormatter) AutoOrient(_ context.Context, img []byte) ([]byte, error) {
	return f.step("orient", img)
}

func (f tagFormatter) Kindle(_ context.Context, img []byte) ([]byte, error) {
	return f.step("kindle", img)
}

func (f tagFormatter) Web(_ context.Context, img []byte) ([]byte, error) {
	return f.step("web", img)
}

var fixedNow = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

func setupTestBoard(t *testing.T, f Formatter) (*Board, Paths) {
	t.Helper()

	dir := t.TempDir()
	paths := Paths{
		Kindle:  filepath.Join(dir, "meme.png"),
		Raw:     filepath.Join(dir, "meme_raw.png"),
		Web:     filepath.Join(dir, "meme_compressed.png"),
		ID:      filepath.Join(dir, "meme_id"),
		Battery: filepath.Join(dir, "battery_percent"),
		Archive: filepath.Join(dir, "archive"),
	}
	board := NewBoard(paths, f, logging.Nop(), withClock(func() time.Time { return fixedNow }))
	return board, paths
}

func readString(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestBoard_UpdateFromBytes(t *testing.T) {
	board, paths := setupTestBoard(t, tagFormatter{})
	require.NoError(t, os.WriteFile(paths.ID, []byte("41\n"), 0644))

	id, err := board.UpdateFromBytes(context.Background(), []byte("IMG"), "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	assert.Equal(t, "orient:IMG", readString(t, paths.Raw))
	assert.Equal(t, "kindle:orient:IMG", readString(t, paths.Kindle))
	assert.Equal(t, "web:orient:IMG", readString(t, paths.Web))
	assert.Equal(t, "42", readString(t, paths.ID))
	assert.Equal(t, "orient:IMG", readString(t, filepath.Join(paths.Archive, "20210304T050607Z-192.0.2.1.png")))

	id, err = board.UpdateFromBytes(context.Background(), []byte("IMG2"), "")
	require.NoError(t, err)
	assert.Equal(t, 43, id)
	assert.FileExists(t, filepath.Join(paths.Archive, "20210304T050607Z.png"))
}

func TestBoard_UpdateFromBytes_FirstMeme(t *testing.T) {
	board, paths := setupTestBoard(t, tagFormatter{})

	id, err := board.UpdateFromBytes(context.Background(), []byte("IMG"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "1", readString(t, paths.ID))
}

func TestBoard_UpdateFromBytes_Errors(t *testing.T) {
	t.Run("empty image", func(t *testing.T) {
		board, _ := setupTestBoard(t, tagFormatter{})
		_, err := board.UpdateFromBytes(context.Background(), nil, "")
		assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
	})

	t.Run("kindle formatting fails", func(t *testing.T) {
		board, paths := setupTestBoard(t, tagFormatter{fail: "kindle"})
		require.NoError(t, os.WriteFile(paths.ID, []byte("7"), 0644))

		_, err := board.UpdateFromBytes(context.Background(), []byte("IMG"), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kindle")
		assert.Equal(t, "7", readString(t, paths.ID), "id only moves on success")
	})

	t.Run("corrupt id", func(t *testing.T) {
		board, paths := setupTestBoard(t, tagFormatter{})
		require.NoError(t, os.WriteFile(paths.ID, []byte("seven"), 0644))

		_, err := board.UpdateFromBytes(context.Background(), []byte("IMG"), "")
		assert.True(t, apperrors.Is(err, apperrors.ErrorTypeRead))
	})
}

func TestBoard_UpdateFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/meme.jpg":
			w.Write([]byte("JPEG"))
		case "/moved":
			http.Redirect(w, r, "/meme.jpg", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	board, paths := setupTestBoard(t, tagFormatter{})

	id, err := board.UpdateFromURL(context.Background(), srv.URL+"/moved\n", "")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "orient:JPEG", readString(t, paths.Raw))

	_, err = board.UpdateFromURL(context.Background(), srv.URL+"/missing", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = board.UpdateFromURL(context.Background(), "file:///etc/passwd", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
}

func TestBoard_Status(t *testing.T) {
	board, paths := setupTestBoard(t, tagFormatter{})
	require.NoError(t, os.WriteFile(paths.ID, []byte("5"), 0644))
	require.NoError(t, os.WriteFile(paths.Kindle, []byte("PNG"), 0644))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"up to date", "80 5", "5\n"},
		{"stale", "79 4", "5\nPNG"},
		{"no meme yet", "78 ", "5\nPNG"},
		{"trailing newline", "77 5\n", "5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := board.Status(context.Background(), tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}

	log := readString(t, paths.Battery)
	lines := strings.Split(strings.TrimSpace(log), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2021-03-04T05:06:07.000Z||80", lines[0])
	assert.True(t, strings.HasSuffix(lines[3], "||77"))
}

func TestBoard_Status_Malformed(t *testing.T) {
	board, _ := setupTestBoard(t, tagFormatter{})

	for _, body := range []string{"", "80", " 5", "80 five"} {
		_, err := board.Status(context.Background(), body)
		assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation), "body %q", body)
	}
}

func TestBoard_BatteryHistory(t *testing.T) {
	board, paths := setupTestBoard(t, tagFormatter{})
	log := strings.Join([]string{
		"2021-03-01T00:00:00.000Z||90",
		"garbage",
		"2021-03-03T00:00:00.000Z||85",
		"2021-03-03T12:00:00.000Z||lots",
		"2021-03-04T00:00:00.000-08:00||80",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(paths.Battery, []byte(log), 0644))

	all, err := board.BatteryHistory(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []BatteryReading{
		{Date: "2021-03-04T00:00:00.000-08:00", Percent: 80},
		{Date: "2021-03-03T00:00:00.000Z", Percent: 85},
		{Date: "2021-03-01T00:00:00.000Z", Percent: 90},
	}, all)

	recent, err := board.BatteryHistory(time.Date(2021, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestBoard_BatteryHistory_NoLog(t *testing.T) {
	board, _ := setupTestBoard(t, tagFormatter{})

	readings, err := board.BatteryHistory(time.Time{})
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestParseLookback(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"36h", 36 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1day 12h", 36 * time.Hour},
		{"90min", 90 * time.Minute},
		{"30s", 30 * time.Second},
		{" 2 Days  3 hours ", 51 * time.Hour},
		{"1w1d", 8 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseLookback(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "d", "7", "7 fortnights", "-3d", "3d!", "999999999999w", "100000d 100000d"} {
		_, err := ParseLookback(bad)
		assert.Error(t, err, bad)
	}
}

func TestMagick(t *testing.T) {
	dir := t.TempDir()

	echo := filepath.Join(dir, "fake-convert")
	require.NoError(t, os.WriteFile(echo, []byte("#!/bin/sh\ncat\n"), 0755))
	out, err := Magick{Binary: echo}.Kindle(context.Background(), []byte("pixels"))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(out))

	failing := filepath.Join(dir, "broken-convert")
	require.NoError(t, os.WriteFile(failing, []byte("#!/bin/sh\necho 'no decode delegate' >&2\nexit 1\n"), 0755))
	_, err = Magick{Binary: failing}.Web(context.Background(), []byte("pixels"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decode delegate")
}
