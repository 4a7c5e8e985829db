package analysis

import (
	"context"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
)

// FallbackQuantifier serves requests from primary and retries them on
// secondary when primary is unreachable. Rejections and validation failures
// are returned as they are.
type FallbackQuantifier struct {
	primary   Quantifier
	secondary Quantifier
	log       logger.Logger
}

// NewFallbackQuantifier returns a quantifier preferring primary.
func NewFallbackQuantifier(primary, secondary Quantifier) *FallbackQuantifier {
	return &FallbackQuantifier{
		primary:   primary,
		secondary: secondary,
		log:       logger.Global().Module(componentName),
	}
}

// ProcessReferences implements Quantifier.
func (f *FallbackQuantifier) ProcessReferences(ctx context.Context, req *ProcessReferencesRequest) (*ProcessReferencesResponse, error) {
	resp, err := f.primary.ProcessReferences(ctx, req)
	if !f.shouldFallBack(ctx, err, endpointProcessReferences) {
		return resp, err
	}
	return f.secondary.ProcessReferences(ctx, req)
}

// Analyze implements Quantifier.
func (f *FallbackQuantifier) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	resp, err := f.primary.Analyze(ctx, req)
	if !f.shouldFallBack(ctx, err, endpointAnalyze) {
		return resp, err
	}
	return f.secondary.Analyze(ctx, req)
}

func (f *FallbackQuantifier) shouldFallBack(ctx context.Context, err error, endpoint string) bool {
	if err == nil || f.secondary == nil || ctx.Err() != nil {
		return false
	}
	if !errors.Is(err, ErrNetwork) && !errors.IsCategory(err, errors.CategoryNetwork) {
		return false
	}
	f.log.Warn("remote quantifier unreachable, using local engine",
		logger.String("endpoint", endpoint),
		logger.Error(err))
	return true
}
