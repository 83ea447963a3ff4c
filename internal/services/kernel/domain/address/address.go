// Package address computes content addresses for kernel payloads.
//
// An address is a CIDv1 with the raw codec over a BLAKE3-256 multihash of the
// payload's canonical bytes, tagged with the kind of content it names.
package address

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake3"
)

// ContentType names the kind of payload an address points to.
type ContentType string

const (
	ContentTypeEvent       ContentType = "event"
	ContentTypeAggregate   ContentType = "aggregate"
	ContentTypeValueObject ContentType = "value_object"
	ContentTypeDocument    ContentType = "document"
	ContentTypeRaw         ContentType = "raw"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeEvent, ContentTypeAggregate, ContentTypeValueObject, ContentTypeDocument, ContentTypeRaw:
		return true
	default:
		return false
	}
}

// Address is a content address. The zero value is Genesis.
type Address struct {
	Digest      cid.Cid
	ContentType ContentType
	// Context is the domain scope, empty for generic addresses.
	Context string
}

// Genesis is the sentinel previous-pointer of the first entry in a log.
var Genesis = Address{}

// IsGenesis reports whether a is the genesis sentinel.
func (a Address) IsGenesis() bool { return !a.Digest.Defined() }

// String returns the multibase CID string, or "genesis".
func (a Address) String() string {
	if a.IsGenesis() {
		return "genesis"
	}
	return a.Digest.String()
}

// WithContext returns a copy scoped to a domain context.
func (a Address) WithContext(context string) Address {
	a.Context = context
	return a
}

// Verify reports whether data hashes to a's digest.
func (a Address) Verify(data []byte) bool {
	if a.IsGenesis() {
		return false
	}
	other, err := Compute(data, a.ContentType)
	if err != nil {
		return false
	}
	return other.Digest.Equals(a.Digest)
}

// Compute addresses raw bytes. It is pure: equal bytes give equal addresses.
func Compute(data []byte, contentType ContentType) (Address, error) {
	if !contentType.Valid() {
		return Address{}, apperrors.New(apperrors.CodeAddressInvalid, fmt.Sprintf("unknown content type %q", contentType))
	}
	sum, err := mh.Sum(data, mh.BLAKE3, 32)
	if err != nil {
		return Address{}, apperrors.Wrap(apperrors.CodeAddressInvalid, "hash payload", err)
	}
	return Address{Digest: cid.NewCidV1(cid.Raw, sum), ContentType: contentType}, nil
}

// ComputeJSON addresses the canonical JSON form of v.
func ComputeJSON(v any, contentType ContentType) (Address, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return Address{}, err
	}
	return Compute(data, contentType)
}

// Parse decodes a CID string produced by String.
func Parse(raw string, contentType ContentType) (Address, error) {
	if raw == "" || raw == "genesis" {
		return Genesis, nil
	}
	parsed, err := cid.Decode(raw)
	if err != nil {
		return Address{}, apperrors.Wrap(apperrors.CodeAddressInvalid, "decode cid", err)
	}
	if parsed.Version() != 1 || parsed.Type() != cid.Raw {
		return Address{}, apperrors.New(apperrors.CodeAddressInvalid, fmt.Sprintf("cid %s is not a raw v1 cid", raw))
	}
	decoded, err := mh.Decode(parsed.Hash())
	if err != nil {
		return Address{}, apperrors.Wrap(apperrors.CodeAddressInvalid, "decode multihash", err)
	}
	if decoded.Code != mh.BLAKE3 {
		return Address{}, apperrors.New(apperrors.CodeAddressInvalid, fmt.Sprintf("cid %s is not blake3", raw))
	}
	return Address{Digest: parsed, ContentType: contentType}, nil
}

type addressJSON struct {
	CID         string      `json:"cid"`
	ContentType ContentType `json:"content_type,omitempty"`
	Context     string      `json:"context,omitempty"`
}

// MarshalJSON encodes the CID in its string form.
func (a Address) MarshalJSON() ([]byte, error) {
	out := addressJSON{ContentType: a.ContentType, Context: a.Context}
	if !a.IsGenesis() {
		out.CID = a.Digest.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var in addressJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parsed, err := Parse(in.CID, in.ContentType)
	if err != nil {
		return err
	}
	parsed.ContentType = in.ContentType
	parsed.Context = in.Context
	*a = parsed
	return nil
}
