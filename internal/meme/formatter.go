package meme

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Formatter converts images. Each method takes and returns encoded image
// bytes; the output is always PNG.
type Formatter interface {
	AutoOrient(ctx context.Context, img []byte) ([]byte, error)
	Kindle(ctx context.Context, img []byte) ([]byte, error)
	Web(ctx context.Context, img []byte) ([]byte, error)
}

// Kindle display geometry.
const (
	KindleWidth  = 768
	KindleHeight = 1024
)

// Magick shells out to ImageMagick's convert, streaming the image through
// stdin and stdout.
type Magick struct {
	// Binary is the convert executable. Defaults to "convert".
	Binary string
}

func (m Magick) AutoOrient(ctx context.Context, img []byte) ([]byte, error) {
	return m.run(ctx, img, "-auto-orient", "-", "png:-")
}

// Kindle fits the image onto a black 768x1024 canvas in 15 gray levels.
func (m Magick) Kindle(ctx context.Context, img []byte) ([]byte, error) {
	wh := fmt.Sprintf("%dx%d", KindleWidth, KindleHeight)
	return m.run(ctx, img,
		"-resize", wh,
		"-extent", wh,
		"-gravity", "center",
		"-background", "black",
		"-grayscale", "Rec709Luma",
		"-strip",
		"-colors", "15",
		"-", "png:-",
	)
}

// Web scales the image to 400 pixels wide.
func (m Magick) Web(ctx context.Context, img []byte) ([]byte, error) {
	return m.run(ctx, img, "-resize", "400", "-", "png:-")
}

func (m Magick) run(ctx context.Context, img []byte, args ...string) ([]byte, error) {
	bin := m.Binary
	if bin == "" {
		bin = "convert"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
