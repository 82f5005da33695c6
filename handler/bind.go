package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// DefaultMaxJSONSize bounds request bodies accepted by BindJSON.
const DefaultMaxJSONSize = 1 << 20

// BindJSON decodes a strict JSON object into v. An empty body leaves v at
// its zero value.
func BindJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return ErrUnsupportedMediaType
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxJSONSize+1))
	if err != nil {
		return ErrBadRequest.WithMessage("failed to read request body")
	}
	if len(body) > DefaultMaxJSONSize {
		return ErrRequestEntityTooLarge
	}
	if len(body) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ErrBadRequest.WithMessage(fmt.Sprintf("invalid JSON body: %v", err))
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return ErrBadRequest.WithMessage("unexpected data after JSON object")
	}
	return nil
}
