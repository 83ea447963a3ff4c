package bucket

import (
	"errors"
	"sync"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
)

var (
	// ErrBucketNameRequired indicates a log without a name.
	ErrBucketNameRequired = errors.New("bucket name is required")
	// ErrGenesisAppend indicates an attempt to append the genesis sentinel.
	ErrGenesisAppend = errors.New("cannot append the genesis address")
)

// Entry is one record in a bucket log.
type Entry struct {
	Bucket   string          `json:"bucket"`
	Sequence uint64          `json:"sequence"`
	Address  address.Address `json:"address"`
	Previous address.Address `json:"previous"`
	// Signature is the hex HMAC over the entry link, empty when unsigned.
	Signature string `json:"signature,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
}

// Log is a named append-only log of addresses. It is safe for concurrent use.
type Log struct {
	name   string
	signer *Keyring

	mu      sync.RWMutex
	entries []Entry
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithSigner signs every appended entry with ring's active key.
func WithSigner(ring *Keyring) LogOption {
	return func(l *Log) { l.signer = ring }
}

// NewLog creates an empty log.
func NewLog(name string, opts ...LogOption) (*Log, error) {
	if name == "" {
		return nil, ErrBucketNameRequired
	}
	l := &Log{name: name}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the bucket name.
func (l *Log) Name() string { return l.name }

// Append records addr with the next sequence and a pointer to the previous
// entry's address. It is the only way a log changes.
func (l *Log) Append(addr address.Address) (Entry, error) {
	if addr.IsGenesis() {
		return Entry{}, ErrGenesisAppend
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Bucket:   l.name,
		Sequence: uint64(len(l.entries)) + 1,
		Address:  addr,
		Previous: address.Genesis,
	}
	if n := len(l.entries); n > 0 {
		entry.Previous = l.entries[n-1].Address
	}
	if l.signer != nil {
		sig, keyID, err := l.signer.SignEntry(entry)
		if err != nil {
			return Entry{}, err
		}
		entry.Signature, entry.KeyID = sig, keyID
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Entries returns a copy of the log in sequence order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the newest entry.
func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}
