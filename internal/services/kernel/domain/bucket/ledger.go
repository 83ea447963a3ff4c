package bucket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
)

// ErrBucketOutsideContext indicates a domain address recorded in a bucket of
// another bounded context.
var ErrBucketOutsideContext = errors.New("bucket is outside the address context")

// Ledger owns a set of named logs and the index over them.
type Ledger struct {
	signer *Keyring
	index  *Index

	mu   sync.Mutex
	logs map[string]*Log

	// recordMu keeps the placement check, append and index update of one
	// Record atomic with respect to other records.
	recordMu sync.Mutex
}

// NewLedger creates an empty ledger. A nil signer leaves entries unsigned.
func NewLedger(signer *Keyring) *Ledger {
	return &Ledger{signer: signer, index: NewIndex(), logs: make(map[string]*Log)}
}

// Record appends addr to the named bucket, creating it on first use, and
// tracks it in the index. An address already tracked in another bucket is
// refused before anything is appended.
func (l *Ledger) Record(_ context.Context, bucket string, addr address.Address) (Entry, error) {
	log, err := l.log(bucket)
	if err != nil {
		return Entry{}, err
	}
	l.recordMu.Lock()
	defer l.recordMu.Unlock()
	if err := l.index.placeable(addr, bucket); err != nil {
		return Entry{}, err
	}
	entry, err := log.Append(addr)
	if err != nil {
		return Entry{}, err
	}
	if _, err := l.index.Track(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// RecordDomain records a domain-scoped address. The bucket must belong to the
// address's context, named "<context>/<id>".
func (l *Ledger) RecordDomain(ctx context.Context, bucket string, addr address.DomainAddress) (Entry, error) {
	if !strings.HasPrefix(bucket, addr.Context+"/") {
		return Entry{}, fmt.Errorf("record %s in %s: %w", addr, bucket, ErrBucketOutsideContext)
	}
	return l.Record(ctx, bucket, addr.Address)
}

// Entries returns the named bucket's entries, or nil when it does not exist.
func (l *Ledger) Entries(bucket string) []Entry {
	l.mu.Lock()
	log, ok := l.logs[bucket]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return log.Entries()
}

// Buckets lists bucket names in sorted order.
func (l *Ledger) Buckets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.logs))
	for name := range l.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify checks the chain of one bucket and, when a signer is configured,
// its signatures.
func (l *Ledger) Verify(bucket string) error {
	entries := l.Entries(bucket)
	if ok, failure := VerifyChain(entries); !ok {
		return failure
	}
	if l.signer != nil {
		return VerifySignatures(l.signer, entries)
	}
	return nil
}

// Index returns the ledger's address index.
func (l *Ledger) Index() *Index { return l.index }

func (l *Ledger) log(bucket string) (*Log, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if log, ok := l.logs[bucket]; ok {
		return log, nil
	}
	var opts []LogOption
	if l.signer != nil {
		opts = append(opts, WithSigner(l.signer))
	}
	log, err := NewLog(bucket, opts...)
	if err != nil {
		return nil, err
	}
	l.logs[bucket] = log
	return log, nil
}
