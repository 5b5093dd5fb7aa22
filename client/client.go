// Package client talks to the notes endpoints of a running homeapi. It
// sends only the changed middle of the document on every push.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homeapi/internal/notes"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int             `json:"-"`
	Type       string          `json:"type"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// Document is the server's copy of the notes.
type Document struct {
	Content  string
	Checksum uint32
	Length   int
}

// Fetch downloads the current document.
func (c *Client) Fetch(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/notes", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Content:  string(body),
		Checksum: notes.Checksum(body),
		Length:   len([]rune(string(body))),
	}
	if h := resp.Header.Get("X-Notes-Checksum"); h != "" {
		sum, err := strconv.ParseUint(h, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing checksum header %q: %w", h, err)
		}
		if uint32(sum) != doc.Checksum {
			return nil, fmt.Errorf("document checksum %d does not match header %d", doc.Checksum, sum)
		}
	}
	return doc, nil
}

// Update sends one edit request.
func (c *Client) Update(ctx context.Context, edit notes.EditRequest) error {
	data, err := json.Marshal(edit)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notes/update", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Push turns old into updated on the server, assuming the server holds
// old. It returns the edit that was sent.
func (c *Client) Push(ctx context.Context, old, updated string) (notes.EditRequest, error) {
	edit := ComputeEdit(old, updated)
	return edit, c.Update(ctx, edit)
}

// ComputeEdit returns the smallest edit request that turns old into
// updated: the longest common prefix, then the longest common suffix of
// what remains, so the two never overlap.
func ComputeEdit(old, updated string) notes.EditRequest {
	a, b := []rune(old), []rune(updated)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	return notes.EditRequest{
		PrefixLen:  prefix,
		SuffixLen:  suffix,
		NewContent: string(b[prefix : len(b)-suffix]),
		Hash:       notes.Checksum([]byte(updated)),
	}
}
