// Package llm is the narrow seam to the language-model adapter. The core
// never depends on its availability: when disabled, callers degrade to
// rule-based classification and gazetteer geocoding.
package llm

import (
	"context"
	"errors"

	"github.com/masfro/masfro/pkg/hazard"
)

// ErrDisabled is returned by the disabled adapter.
var ErrDisabled = errors.New("llm adapter disabled")

// Client classifies report text and images out of process.
type Client interface {
	ClassifyText(ctx context.Context, text string) (hazard.Classification, error)
	ClassifyImage(ctx context.Context, imageRef string) (hazard.Classification, error)
	Enabled() bool
}

// Disabled is the no-op adapter wired when LLM_ENABLED is off.
type Disabled struct{}

func (Disabled) ClassifyText(context.Context, string) (hazard.Classification, error) {
	return hazard.Classification{}, ErrDisabled
}

func (Disabled) ClassifyImage(context.Context, string) (hazard.Classification, error) {
	return hazard.Classification{}, ErrDisabled
}

func (Disabled) Enabled() bool { return false }
