package secret

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestRoundtrip(t *testing.T) {
	enc := NewEncryptor("correct horse battery staple")

	for _, plaintext := range []string{"hunter2", "", "pässwörd with ünïcode"} {
		envelope, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		got, err := enc.Decrypt(envelope)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("roundtrip %q: got %q", plaintext, got)
		}
	}
}

func TestEnvelopesAreUnique(t *testing.T) {
	enc := NewEncryptor("passphrase")

	a, err := enc.Encrypt("same secret")
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.Encrypt("same secret")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical envelopes")
	}
}

func TestWrongPassphrase(t *testing.T) {
	envelope, err := NewEncryptor("right").Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewEncryptor("wrong").Decrypt(envelope)
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("err = %v, want ErrInvalidEnvelope", err)
	}
}

func TestTamperedEnvelope(t *testing.T) {
	enc := NewEncryptor("passphrase")
	envelope, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := enc.Decrypt(tampered); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("err = %v, want ErrInvalidEnvelope", err)
	}
}

func TestMalformedEnvelopes(t *testing.T) {
	enc := NewEncryptor("passphrase")

	cases := []struct {
		name     string
		envelope string
	}{
		{"not base64", "%%% not base64 %%%"},
		{"empty", ""},
		{"too short for salt and nonce", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tc.envelope); !errors.Is(err, ErrInvalidEnvelope) {
				t.Errorf("err = %v, want ErrInvalidEnvelope", err)
			}
		})
	}
}

func TestNoPassphrase(t *testing.T) {
	enc := NewEncryptor("")

	if _, err := enc.Encrypt("secret"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("encrypt: err = %v, want ErrNoPassphrase", err)
	}
	if _, err := enc.Decrypt("anything"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("decrypt: err = %v, want ErrNoPassphrase", err)
	}
}
