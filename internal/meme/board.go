// Package meme runs the e-ink meme board: it accepts new images, formats
// them for a Kindle display, tracks which image the display shows, and
// keeps the display's battery log.
package meme

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"homeapi/internal/atomicfile"
	apperrors "homeapi/internal/errors"
	"homeapi/internal/filelock"
	"homeapi/internal/logging"

	"go.uber.org/zap"
)

// MaxImageBytes caps uploaded and downloaded images.
const MaxImageBytes = 32 << 20

const batteryTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Paths locates the board's files.
type Paths struct {
	Kindle  string // PNG served to the display
	Raw     string // auto-oriented original
	Web     string // reduced copy for browsers
	ID      string // counter of the current image
	Battery string // append-only battery log
	Archive string // directory keeping every upload
}

type Board struct {
	paths       Paths
	formatter   Formatter
	client      *http.Client
	logger      *logging.Logger
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Board)

// WithHTTPClient sets the client used by UpdateFromURL.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Board) { b.client = c }
}

// WithLockTimeout bounds the wait for the board lock.
func WithLockTimeout(d time.Duration) Option {
	return func(b *Board) { b.lockTimeout = d }
}

func withClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

func NewBoard(paths Paths, formatter Formatter, logger *logging.Logger, opts ...Option) *Board {
	if logger == nil {
		logger = logging.Nop()
	}
	b := &Board{
		paths:       paths,
		formatter:   formatter,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		lockTimeout: 30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UpdateFromBytes makes img the current meme and returns its id.
func (b *Board) UpdateFromBytes(ctx context.Context, img []byte, remoteAddr string) (int, error) {
	log := b.logger.WithRequestID(ctx)

	if len(img) == 0 {
		return 0, apperrors.ValidationError("image is empty", nil)
	}

	lock, err := filelock.Acquire(ctx, b.paths.ID+".lock", b.lockTimeout)
	if err != nil {
		return 0, apperrors.LockError("acquiring meme board lock", err)
	}
	defer lock.Release()

	oriented, err := b.formatter.AutoOrient(ctx, img)
	if err != nil {
		return 0, apperrors.Internal(fmt.Sprintf("loading image with length %d", len(img)), err)
	}
	if err := atomicfile.WriteFile(b.paths.Raw, oriented, 0644); err != nil {
		return 0, apperrors.WriteError("writing raw meme", err)
	}

	if path, err := b.archive(oriented, remoteAddr); err != nil {
		log.Warn("archiving meme", zap.Error(err))
	} else {
		log.Debug("meme archived", zap.String("path", path))
	}

	kindle, err := b.formatter.Kindle(ctx, oriented)
	if err != nil {
		return 0, apperrors.Internal("formatting for kindle", err)
	}
	if err := atomicfile.WriteFile(b.paths.Kindle, kindle, 0644); err != nil {
		return 0, apperrors.WriteError("writing kindle meme", err)
	}

	web, err := b.formatter.Web(ctx, oriented)
	if err != nil {
		return 0, apperrors.Internal("compressing image", err)
	}
	if err := atomicfile.WriteFile(b.paths.Web, web, 0644); err != nil {
		return 0, apperrors.WriteError("writing compressed meme", err)
	}

	id, err := readID(b.paths.ID)
	if err != nil {
		return 0, apperrors.ReadError("reading meme id", err)
	}
	id++
	if err := atomicfile.WriteFile(b.paths.ID, []byte(strconv.Itoa(id)), 0644); err != nil {
		return 0, apperrors.WriteError("saving meme id", err)
	}

	log.Info("meme updated",
		zap.Int("meme_id", id),
		zap.Int("bytes", len(img)),
		zap.String("remote_addr", remoteAddr),
	)
	return id, nil
}

// UpdateFromURL downloads the image at rawURL and makes it the current
// meme.
func (b *Board) UpdateFromURL(ctx context.Context, rawURL, remoteAddr string) (int, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, apperrors.ValidationError(fmt.Sprintf("invalid image url %q", rawURL), nil)
	}

	img, err := b.download(ctx, u.String())
	if err != nil {
		return 0, apperrors.Internal(fmt.Sprintf("downloading meme image from url '%s'", rawURL), err)
	}
	return b.UpdateFromBytes(ctx, img, remoteAddr)
}

func (b *Board) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(img) > MaxImageBytes {
		return nil, fmt.Errorf("image larger than %d bytes", MaxImageBytes)
	}
	return img, nil
}

// archive keeps a copy named after the upload time and client address.
func (b *Board) archive(img []byte, remoteAddr string) (string, error) {
	if err := os.MkdirAll(b.paths.Archive, 0755); err != nil {
		return "", err
	}

	stamp := strings.NewReplacer(":", "", "-", "").Replace(b.now().UTC().Format(time.RFC3339))
	name := stamp + ".png"
	if remoteAddr != "" {
		name = stamp + "-" + remoteAddr + ".png"
	}
	path := filepath.Join(b.paths.Archive, name)
	return path, os.WriteFile(path, img, 0644)
}

// Status records the display's battery level and tells it which meme is
// current. body is "<percent> <displayed id>", the id being empty when
// the display has none. The reply is the current id and a newline,
// followed by the Kindle image when the display is out of date.
func (b *Board) Status(ctx context.Context, body string) ([]byte, error) {
	log := b.logger.WithRequestID(ctx)

	percent, displayed, err := parseStatus(body)
	if err != nil {
		return nil, err
	}

	if err := b.saveBattery(percent); err != nil {
		log.Warn("saving battery percentage", zap.Error(err))
	}

	current, err := readID(b.paths.ID)
	if err != nil {
		return nil, apperrors.ReadError("reading meme id", err)
	}

	out := []byte(strconv.Itoa(current) + "\n")
	if displayed == nil || *displayed != current {
		img, err := os.ReadFile(b.paths.Kindle)
		if err != nil {
			return nil, apperrors.ReadError("reading kindle meme", err)
		}
		out = append(out, img...)
	}

	log.Debug("meme status",
		zap.String("battery_percent", percent),
		zap.Int("server_meme_id", current),
		zap.Bool("sent_image", displayed == nil || *displayed != current),
	)
	return out, nil
}

func parseStatus(body string) (string, *int, error) {
	body = strings.TrimRight(body, "\r\n")
	percent, idStr, ok := strings.Cut(body, " ")
	if !ok {
		return "", nil, apperrors.ValidationError("expected chunk for kindle_meme_id but got nothing", nil)
	}
	if percent == "" {
		return "", nil, apperrors.ValidationError("expected chunk for battery_percent but got nothing", nil)
	}
	if idStr == "" {
		return percent, nil, nil
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return "", nil, apperrors.ValidationError(fmt.Sprintf("parsing '%s' as kindle meme id", idStr), nil)
	}
	return percent, &id, nil
}

func (b *Board) saveBattery(percent string) error {
	f, err := os.OpenFile(b.paths.Battery, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s||%s\n", b.now().Format(batteryTimeLayout), percent)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// BatteryReading is one line of the battery log. Date is kept as written.
type BatteryReading struct {
	Date    string `json:"date"`
	Percent int64  `json:"percent"`
}

// BatteryHistory returns readings newest first. Readings older than since
// are dropped; a zero since keeps everything. Malformed lines are skipped.
func (b *Board) BatteryHistory(since time.Time) ([]BatteryReading, error) {
	data, err := os.ReadFile(b.paths.Battery)
	if errors.Is(err, os.ErrNotExist) {
		return []BatteryReading{}, nil
	}
	if err != nil {
		return nil, apperrors.ReadError("reading battery file", err)
	}

	var readings []BatteryReading
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		date, percentStr, ok := strings.Cut(scanner.Text(), "||")
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339, date); err == nil && t.Before(since) {
			continue
		}
		percent, err := strconv.ParseInt(percentStr, 10, 64)
		if err != nil {
			continue
		}
		readings = append(readings, BatteryReading{Date: date, Percent: percent})
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.ReadError("reading battery file", err)
	}

	out := make([]BatteryReading, len(readings))
	for i, r := range readings {
		out[len(readings)-1-i] = r
	}
	return out, nil
}

// CurrentID returns the id of the current meme.
func (b *Board) CurrentID() (int, error) {
	id, err := readID(b.paths.ID)
	if err != nil {
		return 0, apperrors.ReadError("reading meme id", err)
	}
	return id, nil
}

// readID reads the meme counter. A missing file means no meme yet.
func readID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing '%s' as meme id: %w", s, err)
	}
	return id, nil
}
