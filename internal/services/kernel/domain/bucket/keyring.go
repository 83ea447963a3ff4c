package bucket

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/louisbranch/aggkernel/internal/platform/config"
)

// Keyring stores root HMAC keys and the active key id. Signing keys are
// derived per bucket so a signature from one bucket never verifies in
// another.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewKeyring constructs a keyring for HMAC signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// KeyringConfig is read from AGGKERNEL_BUCKET_HMAC_*.
type KeyringConfig struct {
	// Keys is a comma separated list of id=secret pairs.
	Keys        map[string]string `env:"KEYS" envKeyValSeparator:"="`
	ActiveKeyID string            `env:"KEY_ID" envDefault:"v1"`
}

// KeyringFromEnv loads the keyring from the environment. It returns nil and
// no error when no keys are configured, which leaves logs unsigned.
func KeyringFromEnv() (*Keyring, error) {
	var cfg KeyringConfig
	if err := config.ParseEnvPrefixed(&cfg, config.EnvPrefix+"BUCKET_HMAC_"); err != nil {
		return nil, err
	}
	if len(cfg.Keys) == 0 {
		return nil, nil
	}
	keys := make(map[string][]byte, len(cfg.Keys))
	for id, secret := range cfg.Keys {
		id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
		if id == "" || secret == "" {
			return nil, fmt.Errorf("invalid %sBUCKET_HMAC_KEYS entry", config.EnvPrefix)
		}
		keys[id] = []byte(secret)
	}
	return NewKeyring(keys, cfg.ActiveKeyID)
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// SignEntry signs the link an entry represents with the active key.
func (k *Keyring) SignEntry(entry Entry) (string, string, error) {
	if k == nil {
		return "", "", fmt.Errorf("hmac keyring is not configured")
	}
	key, err := deriveBucketKey(k.keys[k.activeKeyID], entry.Bucket)
	if err != nil {
		return "", "", err
	}
	return hmacSHA256Hex(key, linkMessage(entry)), k.activeKeyID, nil
}

// VerifyEntry validates an entry's signature.
func (k *Keyring) VerifyEntry(entry Entry) error {
	if k == nil {
		return fmt.Errorf("hmac keyring is not configured")
	}
	keyID := strings.TrimSpace(entry.KeyID)
	if keyID == "" {
		return fmt.Errorf("signature key id is required")
	}
	rootKey, ok := k.keys[keyID]
	if !ok {
		return fmt.Errorf("signature key id is unknown")
	}
	key, err := deriveBucketKey(rootKey, entry.Bucket)
	if err != nil {
		return err
	}
	expected := hmacSHA256Hex(key, linkMessage(entry))
	if !hmac.Equal([]byte(expected), []byte(entry.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func linkMessage(entry Entry) string {
	return strings.Join([]string{
		entry.Bucket,
		strconv.FormatUint(entry.Sequence, 10),
		entry.Address.String(),
		entry.Previous.String(),
	}, "\n")
}

func deriveBucketKey(rootKey []byte, bucket string) ([]byte, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, ErrBucketNameRequired
	}
	key, err := hkdf.Key(sha256.New, rootKey, nil, "bucket:"+bucket, 32)
	if err != nil {
		return nil, fmt.Errorf("derive bucket key: %w", err)
	}
	return key, nil
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
