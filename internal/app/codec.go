package app

import (
	"fmt"
	"log/slog"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
)

// NewCodec builds the attribute codec from APP_KEY and APP_PREVIOUS_KEYS.
// onFailure may be nil.
func NewCodec(cfg *Config, logger *slog.Logger, onFailure crypt.FailureHook) (*crypt.Codec, error) {
	kr, err := cfg.Keyring()
	if err != nil {
		return nil, fmt.Errorf("app: keyring: %w", err)
	}
	cipher, err := crypt.NewCipher(kr)
	if err != nil {
		return nil, fmt.Errorf("app: cipher: %w", err)
	}
	opts := []crypt.Option{crypt.WithLogger(logger)}
	if onFailure != nil {
		opts = append(opts, crypt.WithFailureHook(onFailure))
	}
	return crypt.NewCodec(cipher, opts...), nil
}
