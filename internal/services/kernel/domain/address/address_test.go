package address

import (
	"encoding/json"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

func TestComputeIsDeterministic(t *testing.T) {
	first, err := Compute([]byte("payload"), ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := Compute([]byte("payload"), ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first != second {
		t.Fatalf("expected equal addresses, got %s and %s", first, second)
	}
	other, err := Compute([]byte("payload!"), ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if other == first {
		t.Fatal("expected different bytes to give different addresses")
	}
}

func TestComputeUsesRawBlake3CIDv1(t *testing.T) {
	addr, err := Compute([]byte("payload"), ContentTypeRaw)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if addr.Digest.Version() != 1 {
		t.Fatalf("cid version = %d, want 1", addr.Digest.Version())
	}
	if addr.Digest.Type() != cid.Raw {
		t.Fatalf("cid codec = %x, want raw", addr.Digest.Type())
	}
	decoded, err := mh.Decode(addr.Digest.Hash())
	if err != nil {
		t.Fatalf("decode multihash: %v", err)
	}
	if decoded.Code != mh.BLAKE3 || decoded.Length != 32 {
		t.Fatalf("multihash = %s/%d, want blake3/32", mh.Codes[decoded.Code], decoded.Length)
	}
}

func TestComputeRejectsUnknownContentType(t *testing.T) {
	_, err := Compute([]byte("x"), ContentType("blob"))
	if !apperrors.HasCode(err, apperrors.CodeAddressInvalid) {
		t.Fatalf("expected address invalid error, got %v", err)
	}
}

func TestComputeJSONIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := ComputeJSON(json.RawMessage(`{"b": 2, "a": {"y": 1, "x": [1, 2]}}`), ContentTypeDocument)
	if err != nil {
		t.Fatalf("compute a: %v", err)
	}
	b, err := ComputeJSON(map[string]any{"a": map[string]any{"x": []int{1, 2}, "y": 1}, "b": 2}, ContentTypeDocument)
	if err != nil {
		t.Fatalf("compute b: %v", err)
	}
	if a != b {
		t.Fatalf("expected canonical equality, got %s and %s", a, b)
	}
}

func TestCanonicalizePreservesNumberLiterals(t *testing.T) {
	got, err := Canonicalize([]byte(`{"amount": 10.50, "big": 12345678901234567890}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"amount":10.50,"big":12345678901234567890}`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	for _, raw := range []string{`{}garbage`, `{} {}`, `{"a":1}]`} {
		if _, err := Canonicalize([]byte(raw)); apperrors.CodeOf(err) != apperrors.CodeAddressInvalid {
			t.Fatalf("Canonicalize(%q) err = %v, want %s", raw, err, apperrors.CodeAddressInvalid)
		}
	}
	got, err := Canonicalize([]byte("{\"a\": 1}\n  "))
	if err != nil {
		t.Fatalf("trailing whitespace: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("canonical = %s", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	addr, err := Compute([]byte("payload"), ContentTypeAggregate)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	parsed, err := Parse(addr.String(), ContentTypeAggregate)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("parsed = %s, want %s", parsed, addr)
	}
	if genesis, err := Parse("genesis", ContentTypeRaw); err != nil || !genesis.IsGenesis() {
		t.Fatalf("parse genesis = %v, %v", genesis, err)
	}
}

func TestParseRejectsForeignHash(t *testing.T) {
	sum, err := mh.Sum([]byte("payload"), mh.SHA2_256, -1)
	if err != nil {
		t.Fatalf("sha256 sum: %v", err)
	}
	foreign := cid.NewCidV1(cid.Raw, sum)
	if _, err := Parse(foreign.String(), ContentTypeRaw); err == nil {
		t.Fatal("expected non-blake3 cid to be rejected")
	}
	if _, err := Parse("not-a-cid", ContentTypeRaw); err == nil {
		t.Fatal("expected malformed cid to be rejected")
	}
}

func TestVerify(t *testing.T) {
	addr, err := Compute([]byte("payload"), ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !addr.Verify([]byte("payload")) {
		t.Fatal("expected payload to verify")
	}
	if addr.Verify([]byte("tampered")) {
		t.Fatal("expected tampered payload to fail")
	}
	if Genesis.Verify(nil) {
		t.Fatal("genesis verifies nothing")
	}
}

func TestAddressJSONRoundTrip(t *testing.T) {
	addr, err := Compute([]byte("payload"), ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	addr = addr.WithContext("orders")
	data, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Address
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != addr {
		t.Fatalf("decoded = %+v, want %+v", decoded, addr)
	}

	data, err = json.Marshal(Genesis)
	if err != nil {
		t.Fatalf("marshal genesis: %v", err)
	}
	var genesis Address
	if err := json.Unmarshal(data, &genesis); err != nil {
		t.Fatalf("unmarshal genesis: %v", err)
	}
	if !genesis.IsGenesis() {
		t.Fatal("expected genesis round trip")
	}
}

func TestDomainAddress(t *testing.T) {
	addr, err := Compute([]byte("payload"), ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if _, err := addr.InDomain(""); !errors.Is(err, ErrContextRequired) {
		t.Fatalf("expected ErrContextRequired, got %v", err)
	}
	scoped, err := addr.InDomain("orders")
	if err != nil {
		t.Fatalf("in domain: %v", err)
	}
	if scoped.Context != "orders" {
		t.Fatalf("context = %q", scoped.Context)
	}
	if !scoped.Digest.Equals(addr.Digest) {
		t.Fatal("scoping must not change the digest")
	}
	if scoped.Generic() != addr {
		t.Fatal("expected generic form to match original")
	}
}
