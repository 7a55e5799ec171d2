package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/ferrors"
	"github.com/serbia-gov/eventflow/metrics"
)

// LoggingMiddleware logs every dispatch's outcome via the stdlib log
// package, matching the teacher's internal/kurrentdb/subscriber.go and
// internal/shared/events/bus.go diagnostic style (log.Printf, no
// structured logger).
func LoggingMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			ec, _ := eventflow.ExecutionContextFrom(ctx)
			start := time.Now()
			result, err := next(ctx, cmd)
			if err != nil {
				log.Printf("command: correlation=%s aggregate=%s type=%T failed in %s: %v", ec.CorrelationID, cmd.AggregateID(), cmd, time.Since(start), err)
			} else {
				log.Printf("command: correlation=%s aggregate=%s type=%T ok in %s", ec.CorrelationID, cmd.AggregateID(), cmd, time.Since(start))
			}
			return result, err
		}
	}
}

// ContextPropagationMiddleware ensures every dispatch carries an
// ExecutionContext: it derives one from whatever is already on ctx (a
// parent flow), or starts a fresh correlation if none exists. It should
// be the outermost middleware so every later layer can rely on
// eventflow.ExecutionContextFrom(ctx) succeeding.
func ContextPropagationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			if _, ok := eventflow.ExecutionContextFrom(ctx); !ok {
				ctx = eventflow.NewCorrelatedContext(ctx)
			}
			return next(ctx, cmd)
		}
	}
}

// IdempotencyMiddleware short-circuits a repeat dispatch of a command
// carrying the same eventflow.IdempotentCommand.IdempotencyKey: the
// first dispatch to reserve the key runs normally and its JSON-encoded
// result is recorded; every later dispatch of the same key returns that
// recorded result (or its recorded error) without invoking next again.
// This is one of the three call sites the framework explicitly allows
// to short-circuit without propagating further: a repeated idempotent
// command is not itself an error condition.
func IdempotencyMiddleware(store eventstore.IdempotencyStore) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			ic, ok := cmd.(eventflow.IdempotentCommand)
			if !ok {
				return next(ctx, cmd)
			}
			key := ic.IdempotencyKey()
			if key == "" {
				return next(ctx, cmd)
			}

			reserved, existing, err := store.Reserve(ctx, key)
			if err != nil {
				return nil, ferrors.Wrap(ferrors.TransientBackend, err, "idempotency reserve failed")
			}
			if !reserved {
				if existing == nil {
					// Another dispatch is in flight for this key; the
					// caller should retry rather than assume failure.
					return nil, ferrors.New(ferrors.Concurrency, "idempotent command already in flight")
				}
				var result any
				if existing.Succeeded {
					_ = json.Unmarshal(existing.Result, &result)
					return result, nil
				}
				return nil, ferrors.DomainError(string(existing.Result))
			}

			result, err := next(ctx, cmd)
			rec := &eventstore.IdempotencyRecord{Key: key, Succeeded: err == nil, CreatedAt: time.Now().UTC()}
			if err == nil {
				if encoded, mErr := json.Marshal(result); mErr == nil {
					rec.Result = encoded
				}
			} else {
				rec.Result = []byte(err.Error())
			}
			if cErr := store.Complete(ctx, rec); cErr != nil {
				log.Printf("command: idempotency completion write failed for key %s: %v", key, cErr)
			}
			return result, err
		}
	}
}

// ConcurrencyRetryMiddleware re-runs a dispatch that fails with
// ferrors.Concurrency, making at most maxAttempts attempts in total
// (the first one included), giving the aggregate
// repository's optimistic-concurrency check a chance to succeed once
// the conflicting writer has finished. Every other error kind passes
// straight through on the first attempt.
func ConcurrencyRetryMiddleware(maxAttempts int) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			var lastErr error
			for attempt := 0; attempt < maxAttempts; attempt++ {
				result, err := next(ctx, cmd)
				if err == nil {
					return result, nil
				}
				if !ferrors.Is(err, ferrors.Concurrency) {
					return nil, err
				}
				lastErr = err
			}
			return nil, lastErr
		}
	}
}

// MetricsMiddleware records command dispatch counts and durations to
// Prometheus via the metrics package. It should sit close to the
// outside of the chain so its duration measurement includes retries and
// throttling performed by inner middleware.
func MetricsMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			start := time.Now()
			result, err := next(ctx, cmd)
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			commandType := fmt.Sprintf("%T", cmd)
			metrics.RecordCommand(commandType, outcome, time.Since(start))
			return result, err
		}
	}
}

// ThrottleMiddleware paces command dispatch through a token-bucket
// limiter, the same golang.org/x/time/rate primitive the teacher uses
// for HTTP rate limiting (internal/shared/middleware/security.go),
// repurposed here to bound command throughput rather than inbound HTTP
// requests.
func ThrottleMiddleware(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, ferrors.Wrap(ferrors.TransientBackend, err, "command throttle wait failed")
			}
			return next(ctx, cmd)
		}
	}
}
