package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	apperrors "homeapi/internal/errors"
)

// EditRequest is one incremental change to the document: keep
// PrefixLen leading and SuffixLen trailing characters of the current
// document, replace everything between them with NewContent, and expect
// the result to hash to Hash.
type EditRequest struct {
	PrefixLen  int    `json:"reusable_prefix_len"`
	SuffixLen  int    `json:"reusable_suffix_len"`
	NewContent string `json:"new_content"`
	Hash       uint32 `json:"hash"`
}

// maxRequestBytes caps the body accepted by DecodeEditRequest.
const maxRequestBytes = 32 << 20

var requiredFields = []string{"reusable_prefix_len", "reusable_suffix_len", "new_content", "hash"}

// DecodeEditRequest reads a single JSON object and validates that every
// field is present with the right type. Failures are MALFORMED_REQUEST
// errors naming the offending field.
func DecodeEditRequest(r io.Reader) (EditRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxRequestBytes+1))
	if err != nil {
		return EditRequest{}, apperrors.MalformedRequest("", fmt.Sprintf("reading request body: %v", err))
	}
	if len(body) > maxRequestBytes {
		return EditRequest{}, apperrors.MalformedRequest("", "request body too large")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return EditRequest{}, apperrors.MalformedRequest("", "request body must be a JSON object")
	}

	for _, name := range requiredFields {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return EditRequest{}, apperrors.MalformedRequest(name, name+" is required")
		}
	}

	var req EditRequest
	if req.PrefixLen, err = decodeCount(fields, "reusable_prefix_len"); err != nil {
		return EditRequest{}, err
	}
	if req.SuffixLen, err = decodeCount(fields, "reusable_suffix_len"); err != nil {
		return EditRequest{}, err
	}
	if err := json.Unmarshal(fields["new_content"], &req.NewContent); err != nil {
		return EditRequest{}, apperrors.MalformedRequest("new_content", "new_content must be a string")
	}

	var hash json.Number
	if err := unmarshalNumber(fields["hash"], &hash); err != nil {
		return EditRequest{}, apperrors.MalformedRequest("hash", "hash must be a number")
	}
	h, err := hash.Int64()
	if err != nil || h < 0 || h > math.MaxUint32 {
		return EditRequest{}, apperrors.MalformedRequest("hash", "hash must be an unsigned 32-bit integer")
	}
	req.Hash = uint32(h)

	return req, nil
}

func decodeCount(fields map[string]json.RawMessage, name string) (int, error) {
	var n json.Number
	if err := unmarshalNumber(fields[name], &n); err != nil {
		return 0, apperrors.MalformedRequest(name, name+" must be a number")
	}
	v, err := n.Int64()
	if err != nil || v < 0 || v > math.MaxInt32 {
		return 0, apperrors.MalformedRequest(name, name+" must be a non-negative integer")
	}
	return int(v), nil
}

func unmarshalNumber(raw json.RawMessage, n *json.Number) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return err
	}
	num, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("not a number")
	}
	*n = num
	return nil
}
