package fn

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/rateprof/profrag/pkg/fn"

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			return Err[C](r.err)
		}
		return second(ctx, r.val)
	}
}

// TracedStage wraps a stage with an OTel span named name.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if result.IsErr() {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		return result
	}
}

// Observer receives the duration and error of each observed stage run.
type Observer func(ctx context.Context, stage string, d time.Duration, err error)

// ObservedStage reports every run of stage to obs. A nil obs returns stage unchanged.
func ObservedStage[In, Out any](name string, obs Observer, stage Stage[In, Out]) Stage[In, Out] {
	if obs == nil {
		return stage
	}
	return func(ctx context.Context, in In) Result[Out] {
		start := time.Now()
		result := stage(ctx, in)
		obs(ctx, name, time.Since(start), result.err)
		return result
	}
}
