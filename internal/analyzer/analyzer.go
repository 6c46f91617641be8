package analyzer

import (
	"context"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// Analyzer inspects one target and reports what is currently wrong with it.
// A nil error with an empty slice means the target is healthy. Any error
// means the cycle produced no usable evidence and must be recorded as failed.
type Analyzer interface {
	Analyze(ctx context.Context, target string) ([]models.Finding, error)
}

// Func adapts a plain function to the Analyzer interface.
type Func func(ctx context.Context, target string) ([]models.Finding, error)

func (f Func) Analyze(ctx context.Context, target string) ([]models.Finding, error) {
	return f(ctx, target)
}
