// Package classifier scores message text for toxicity.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spacechat/internal/config"
)

// ErrUnavailable marks a classification that could not complete.
var ErrUnavailable = errors.New("classifier unavailable")

// Verdict is the outcome of classifying one text.
type Verdict struct {
	Toxic      bool            `json:"is_toxic"`
	Score      float64         `json:"confidence"`
	Categories map[string]bool `json:"categories"`
}

// Classifier returns a verdict for text. Implementations wrap every failure
// to reach a decision in ErrUnavailable.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
	Name() string
}

// New builds the classifier selected by CLASSIFIER_MODE.
func New(cfg *config.Config) (Classifier, error) {
	switch cfg.ClassifierMode {
	case "local":
		return NewPatternClassifier()
	case "", "http":
		timeout := time.Duration(cfg.ClassifierTimeoutMS) * time.Millisecond
		return NewHTTPClassifier(cfg.ClassifierURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.ClassifierMode)
	}
}
