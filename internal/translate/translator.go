// Package translate abstracts the text translation backends and adds
// the shared result cache in front of them.
package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/exaudilabs/exaudi-core/internal/config"
)

var (
	ErrRateLimited = errors.New("translator rate limited")
	ErrUnavailable = errors.New("translation unavailable")
)

// Translator produces targetLang text for sourceLang input.
// Cancellation surfaces as the context error.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// New builds the configured backend wrapped in the result cache.
func New(cfg config.TranslateConfig) (Translator, error) {
	var (
		base Translator
		err  error
	)
	switch cfg.Mode {
	case "", "mock":
		base = NewMock()
	case "exec":
		base, err = NewExec(cfg)
	default:
		return nil, fmt.Errorf("unknown translate mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(base, cfg.CacheSize)
}
