package address

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
)

// CanonicalJSON encodes v as compact JSON with object keys sorted, so that
// structurally equal values produce identical bytes. Numbers keep their
// literal form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeAddressInvalid, "encode payload", err)
		}
		raw = encoded
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites JSON bytes into canonical form.
func Canonicalize(raw []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAddressInvalid, "decode payload", err)
	}
	// Anything after the first value would otherwise be dropped and two
	// different inputs would share an address.
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, apperrors.New(apperrors.CodeAddressInvalid, "trailing data after payload")
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(generic); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAddressInvalid, "encode canonical payload", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
