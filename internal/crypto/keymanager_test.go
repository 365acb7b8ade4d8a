package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptSecret(t *testing.T) {
	const secret = "sk-or-v1-abc123"
	const password = "correct horse battery staple"

	blob, err := EncryptSecret(secret, password)
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		got, err := DecryptSecret(blob, password)
		if err != nil {
			t.Fatalf("DecryptSecret: %v", err)
		}
		if got != secret {
			t.Errorf("DecryptSecret = %q, want %q", got, secret)
		}
	})

	t.Run("plaintext absent from blob", func(t *testing.T) {
		if strings.Contains(string(blob), secret) {
			t.Error("encrypted blob contains the plaintext secret")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := DecryptSecret(blob, "wrong"); err == nil {
			t.Fatal("DecryptSecret with wrong password returned nil error")
		}
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		var stored encryptedSecretJSON
		if err := json.Unmarshal(blob, &stored); err != nil {
			t.Fatalf("unmarshal blob: %v", err)
		}
		// Flip the first character of the base64 ciphertext.
		if stored.Ciphertext[0] == 'A' {
			stored.Ciphertext = "B" + stored.Ciphertext[1:]
		} else {
			stored.Ciphertext = "A" + stored.Ciphertext[1:]
		}
		tampered, err := json.Marshal(stored)
		if err != nil {
			t.Fatalf("marshal tampered blob: %v", err)
		}
		if _, err := DecryptSecret(tampered, password); err == nil {
			t.Fatal("DecryptSecret of tampered blob returned nil error")
		}
	})
}

func TestEncryptSecretInputValidation(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("EncryptSecret with empty secret returned nil error")
	}
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Error("EncryptSecret with empty password returned nil error")
	}
}

func TestDecryptSecretRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		blob     string
		password string
		wantMsg  string
	}{
		{
			name:     "empty password",
			blob:     `{"version":1}`,
			password: "",
			wantMsg:  "password must not be empty",
		},
		{
			name:     "not json",
			blob:     "certainly not json",
			password: "pw",
			wantMsg:  "parsing encrypted secret JSON",
		},
		{
			name:     "unsupported version",
			blob:     `{"version":9,"salt":"","nonce":"","ciphertext":""}`,
			password: "pw",
			wantMsg:  "unsupported version 9",
		},
		{
			name:     "bad base64 salt",
			blob:     `{"version":1,"salt":"!!!","nonce":"","ciphertext":""}`,
			password: "pw",
			wantMsg:  "decoding salt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptSecret([]byte(tt.blob), tt.password)
			if err == nil {
				t.Fatal("DecryptSecret returned nil error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, missing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadSecret(t *testing.T) {
	const secret = "re_resend_key_456"
	const password = "hunter2hunter2"

	blob, err := EncryptSecret(secret, password)
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	t.Run("raw value wins", func(t *testing.T) {
		got, err := LoadSecret(SecretConfig{RawValue: "plain", EncryptedPath: path, Password: "ignored"})
		if err != nil {
			t.Fatalf("LoadSecret: %v", err)
		}
		if got != "plain" {
			t.Errorf("LoadSecret = %q, want %q", got, "plain")
		}
	})

	t.Run("encrypted file", func(t *testing.T) {
		got, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: password})
		if err != nil {
			t.Fatalf("LoadSecret: %v", err)
		}
		if got != secret {
			t.Errorf("LoadSecret = %q, want %q", got, secret)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSecret(SecretConfig{EncryptedPath: filepath.Join(t.TempDir(), "nope.json"), Password: password})
		if err == nil {
			t.Fatal("LoadSecret with missing file returned nil error")
		}
	})

	t.Run("file without password", func(t *testing.T) {
		_, err := LoadSecret(SecretConfig{EncryptedPath: path})
		if err == nil {
			t.Fatal("LoadSecret without password returned nil error")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		got, err := LoadSecret(SecretConfig{})
		if err != nil {
			t.Fatalf("LoadSecret: %v", err)
		}
		if got != "" {
			t.Errorf("LoadSecret = %q, want empty", got)
		}
	})
}
