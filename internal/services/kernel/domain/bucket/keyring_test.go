package bucket

import (
	"os"
	"testing"
)

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring(nil, "v1"); err == nil {
		t.Fatal("expected error for missing keys")
	}

	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, ""); err == nil {
		t.Fatal("expected error for missing active key id")
	}

	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v2"); err == nil {
		t.Fatal("expected error for unknown active key id")
	}
}

func TestKeyringSignAndVerifyEntry(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	log, err := NewLog("orders", WithSigner(ring))
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	entry, err := log.Append(mustAddress(t, "a1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.KeyID != "v1" || entry.Signature == "" {
		t.Fatalf("entry = %+v", entry)
	}
	if err := ring.VerifyEntry(entry); err != nil {
		t.Fatalf("verify entry: %v", err)
	}
}

func TestKeyringVerifyFailures(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	log, _ := NewLog("orders", WithSigner(ring))
	entry, err := log.Append(mustAddress(t, "a1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	missingKey := entry
	missingKey.KeyID = ""
	if err := ring.VerifyEntry(missingKey); err == nil {
		t.Fatal("expected error for missing key id")
	}
	unknown := entry
	unknown.KeyID = "unknown"
	if err := ring.VerifyEntry(unknown); err == nil {
		t.Fatal("expected error for unknown key id")
	}
	otherBucket := entry
	otherBucket.Bucket = "payments"
	if err := ring.VerifyEntry(otherBucket); err == nil {
		t.Fatal("expected signature to be bucket scoped")
	}
	moved := entry
	moved.Sequence = 2
	if err := VerifySignatures(ring, []Entry{moved}); err == nil {
		t.Fatal("expected tampered sequence to fail verification")
	}
}

func TestKeyringActiveKeyID(t *testing.T) {
	var ring *Keyring
	if ring.ActiveKeyID() != "" {
		t.Fatal("expected empty active key id for nil keyring")
	}
	if _, _, err := ring.SignEntry(Entry{Bucket: "b"}); err == nil {
		t.Fatal("expected nil keyring sign error")
	}
}

func TestKeyringFromEnv(t *testing.T) {
	t.Setenv("AGGKERNEL_BUCKET_HMAC_KEYS", "v1=alpha,v2=beta")
	t.Setenv("AGGKERNEL_BUCKET_HMAC_KEY_ID", "v2")
	ring, err := KeyringFromEnv()
	if err != nil {
		t.Fatalf("keyring from env: %v", err)
	}
	if ring.ActiveKeyID() != "v2" {
		t.Fatalf("active key = %q", ring.ActiveKeyID())
	}
}

func TestKeyringFromEnvUnsetIsUnsigned(t *testing.T) {
	t.Setenv("AGGKERNEL_BUCKET_HMAC_KEYS", "")
	os.Unsetenv("AGGKERNEL_BUCKET_HMAC_KEYS")
	ring, err := KeyringFromEnv()
	if err != nil || ring != nil {
		t.Fatalf("expected nil keyring, got %v, %v", ring, err)
	}
}
