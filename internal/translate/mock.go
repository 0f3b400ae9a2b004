package translate

import (
	"context"
	"fmt"
)

type mockTranslator struct{}

// NewMock returns a deterministic translator for development and
// tests: the target language tag prefixed to the input.
func NewMock() Translator {
	return &mockTranslator{}
}

func (m *mockTranslator) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}
