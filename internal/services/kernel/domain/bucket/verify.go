package bucket

import (
	"fmt"
	"slices"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
)

// ChainVerificationFailure describes the first broken link in a chain.
type ChainVerificationFailure struct {
	Bucket   string
	Sequence uint64
	Expected address.Address
	Actual   address.Address
	Reason   string
}

// Error implements error.
func (f *ChainVerificationFailure) Error() string {
	return fmt.Sprintf("bucket %s: chain broken at sequence %d: %s", f.Bucket, f.Sequence, f.Reason)
}

// ErrorCode classifies the failure.
func (f *ChainVerificationFailure) ErrorCode() apperrors.Code {
	return apperrors.CodeChainVerificationFailed
}

// VerifyChain checks that entries, taken in sequence order, start at
// sequence 1 from genesis, have no gaps, and each point at the address of the
// entry before. It returns false with the offending sequence on the first
// mismatch. An empty chain is valid.
func VerifyChain(entries []Entry) (bool, *ChainVerificationFailure) {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b Entry) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})

	expected := address.Genesis
	for i, entry := range ordered {
		if want := uint64(i) + 1; entry.Sequence != want {
			return false, &ChainVerificationFailure{
				Bucket:   entry.Bucket,
				Sequence: entry.Sequence,
				Reason:   fmt.Sprintf("expected sequence %d", want),
			}
		}
		if entry.Previous != expected {
			return false, &ChainVerificationFailure{
				Bucket:   entry.Bucket,
				Sequence: entry.Sequence,
				Expected: expected,
				Actual:   entry.Previous,
				Reason:   fmt.Sprintf("previous %s does not match %s", entry.Previous, expected),
			}
		}
		expected = entry.Address
	}
	return true, nil
}

// VerifySignatures checks every entry's signature against ring. It stops at
// the first failure.
func VerifySignatures(ring *Keyring, entries []Entry) error {
	for _, entry := range entries {
		if err := ring.VerifyEntry(entry); err != nil {
			return &ChainVerificationFailure{
				Bucket:   entry.Bucket,
				Sequence: entry.Sequence,
				Reason:   err.Error(),
			}
		}
	}
	return nil
}
