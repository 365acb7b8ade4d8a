package config

import (
	"fmt"

	"github.com/alanyoungcy/pricewatch/internal/crypto"
)

// ResolveSecrets replaces encrypted credential references with their
// decrypted values. Call after Load and before Validate-dependent wiring;
// a raw value always wins over an encrypted file.
func ResolveSecrets(cfg *Config) error {
	llmKey, err := crypto.LoadSecret(crypto.SecretConfig{
		RawValue:      cfg.LLM.APIKey,
		EncryptedPath: cfg.LLM.EncryptedKeyPath,
		Password:      cfg.LLM.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("config: resolving llm api key: %w", err)
	}
	cfg.LLM.APIKey = llmKey

	emailKey, err := crypto.LoadSecret(crypto.SecretConfig{
		RawValue:      cfg.Email.ResendAPIKey,
		EncryptedPath: cfg.Email.EncryptedKeyPath,
		Password:      cfg.Email.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("config: resolving resend api key: %w", err)
	}
	cfg.Email.ResendAPIKey = emailKey

	return nil
}

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.LLM.APIKey)
	redact(&out.LLM.KeyPassword)
	redact(&out.LLM.OpenAIAPIKey)
	redact(&out.Email.ResendAPIKey)
	redact(&out.Email.KeyPassword)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.LLM.FallbackModels != nil {
		out.LLM.FallbackModels = make([]string, len(cfg.LLM.FallbackModels))
		copy(out.LLM.FallbackModels, cfg.LLM.FallbackModels)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
