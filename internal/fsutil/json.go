package fsutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/tidwall/jsonc"
)

// MarshalStable renders v as indented JSON with a trailing newline. Map keys
// are sorted by encoding/json, so equal values give equal bytes.
func MarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// WriteJSON atomically writes v to path in stable form.
func WriteJSON(path string, v any) error {
	b, err := MarshalStable(v)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, b, 0o644)
}

// ReadJSONStrict decodes path into dst, rejecting unknown fields and
// trailing content.
func ReadJSONStrict(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return DecodeStrict(data, dst)
}

// ReadJSONC is ReadJSONStrict for hand-edited files: comments and trailing
// commas are accepted.
func ReadJSONC(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return DecodeStrict(jsonc.ToJSON(data), dst)
}

// DecodeStrict decodes one JSON document from data into dst.
func DecodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
