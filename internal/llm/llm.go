package llm

import (
	"context"
	"fmt"
)

// VerseSuggestion is a verse the model believes the transcript quotes or
// paraphrases. Confidence is always within [0,100].
type VerseSuggestion struct {
	Reference  string `json:"reference"`
	Confidence int    `json:"confidence"`
}

// Detector defines the interface for verse-detection providers.
type Detector interface {
	// DetectVerses returns the verses the transcript refers to. Errors are
	// *DetectionError and callers treat them as "no suggestions".
	DetectVerses(ctx context.Context, text string) ([]VerseSuggestion, error)
}

// DetectionError reports a failed provider call or an unparsable response.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("verse detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
