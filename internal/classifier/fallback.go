package classifier

import (
	"context"
	"errors"
	"log/slog"

	"spacechat/internal/middleware"
)

// Fallback asks Primary first and Secondary only when Primary is unavailable
// and enabled(ctx) allows it.
type Fallback struct {
	Primary   Classifier
	Secondary Classifier
	enabled   func(ctx context.Context) bool
}

// NewFallback wraps primary. A nil enabled func always allows the fallback.
func NewFallback(primary, secondary Classifier, enabled func(ctx context.Context) bool) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary, enabled: enabled}
}

func (f *Fallback) Name() string { return f.Primary.Name() }

func (f *Fallback) Classify(ctx context.Context, text string) (Verdict, error) {
	verdict, err := f.Primary.Classify(ctx, text)
	if err == nil || !errors.Is(err, ErrUnavailable) || f.Secondary == nil {
		return verdict, err
	}
	if f.enabled != nil && !f.enabled(ctx) {
		return verdict, err
	}

	middleware.Logger.WarnContext(ctx, "Primary classifier unavailable, using fallback",
		slog.String("primary", f.Primary.Name()),
		slog.String("fallback", f.Secondary.Name()),
		slog.String("error", err.Error()),
	)
	return f.Secondary.Classify(ctx, text)
}
