package signer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	json "github.com/goccy/go-json"

	"github.com/coachpo/mangogate/errs"
)

// LoadKeypair returns the wallet key. raw (the KEYPAIR variable) wins over the
// keygen file at path and may be a JSON byte array or a base58 secret.
func LoadKeypair(raw, path string) (solana.PrivateKey, error) {
	if raw = strings.TrimSpace(raw); raw != "" {
		key, err := parseSecret(raw)
		if err != nil {
			return nil, errs.Config("invalid KEYPAIR", errs.WithCause(err))
		}
		return key, nil
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errs.Config("keypair path required")
	}
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, errs.Config("read keypair", errs.WithCause(err), errs.WithField("path", path))
	}
	key, err := parseSecret(string(data))
	if err != nil {
		return nil, errs.Config("invalid keypair file", errs.WithCause(err), errs.WithField("path", path))
	}
	return key, nil
}

func parseSecret(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var values []int
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("decode secret key array: %w", err)
		}
		key := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("secret key byte %d out of range", i)
			}
			key[i] = byte(v)
		}
		return checkLength(key)
	}
	key, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base58 secret key: %w", err)
	}
	return checkLength(key)
}

func checkLength(key solana.PrivateKey) (solana.PrivateKey, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("secret key must be 64 bytes, got %d", len(key))
	}
	return key, nil
}
