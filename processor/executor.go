// Package processor implements the Event Processor Executor: the loop
// that drains one asynchronous subscription, dispatches each event to a
// handler, measures lag, decides whether a burst of events qualifies as
// "catching up" (and should therefore be paced rather than run at full
// speed), and saves the checkpoint after each event whose handler
// succeeds. It does not filter events against the checkpoint or any
// catchup watermark: every event the subscription delivers is
// dispatched.
package processor

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventbus"
	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/ferrors"
	"github.com/serbia-gov/eventflow/metrics"
	"github.com/serbia-gov/eventflow/processor/checkpoint"
)

// Handler processes one event. A permissive router (see NewRouter)
// lets an Executor skip event types it has no handler for rather than
// treat that as an error — the one place besides idempotent
// short-circuit and best-effort shutdown the framework allows silent
// skipping, per spec.md §7.
type Handler func(ctx context.Context, event *eventstore.Envelope) error

// DeadLetterSink receives an event whose handler failed after the
// Executor gives up on it, rather than blocking the whole subscription.
// Optional: an Executor with none configured logs the failure and goes
// on with the next event. Either way the checkpoint is not saved for
// the failed event, and the next event that succeeds moves it past.
type DeadLetterSink interface {
	Send(ctx context.Context, event *eventstore.Envelope, cause error) error
}

// CatchupCondition decides, given the current lag measurement, whether
// the Executor should treat its current backlog as "catching up" (and
// therefore apply the pacer set by WithCatchupPacer) rather than
// running at full speed.
type CatchupCondition interface {
	ShouldCatchup(lag Lag) bool
}

// Lag is the Executor's measurement of how far behind its subscription
// is, per spec.md §4.11 point 4.
type Lag struct {
	UnprocessedEvents int
	AverageEventAge   time.Duration
}

// Never never considers the processor to be catching up.
type Never struct{}

func (Never) ShouldCatchup(Lag) bool { return false }

// AfterNEvents triggers catchup mode once unprocessed events exceeds N.
type AfterNEvents int

func (n AfterNEvents) ShouldCatchup(lag Lag) bool { return lag.UnprocessedEvents > int(n) }

// AfterNAge triggers catchup mode once the average unprocessed event's
// age exceeds the given duration.
type AfterNAge time.Duration

func (d AfterNAge) ShouldCatchup(lag Lag) bool { return lag.AverageEventAge > time.Duration(d) }

// AnyOf triggers catchup mode if any of its conditions do.
type AnyOf []CatchupCondition

func (cs AnyOf) ShouldCatchup(lag Lag) bool {
	for _, c := range cs {
		if c.ShouldCatchup(lag) {
			return true
		}
	}
	return false
}

// AllOf triggers catchup mode only if every one of its conditions does.
type AllOf []CatchupCondition

func (cs AllOf) ShouldCatchup(lag Lag) bool {
	for _, c := range cs {
		if !c.ShouldCatchup(lag) {
			return false
		}
	}
	return true
}

// Executor drains one subscription on transport, dispatching each event
// to router's matching handler, measuring lag, and saving the
// checkpoint after each event whose handler succeeds.
type Executor struct {
	processorID   string
	transport     eventbus.Transport
	router        *eventflow.Router[Handler]
	checkpoints   checkpoint.Store
	witness       checkpoint.Witness
	catchup       CatchupCondition
	pacer         *rate.Limiter
	deadLetter    DeadLetterSink
}

// Option configures optional Executor behavior.
type Option func(*Executor)

func WithCheckpointStore(store checkpoint.Store) Option {
	return func(e *Executor) { e.checkpoints = store }
}

func WithWitness(w checkpoint.Witness) Option {
	return func(e *Executor) { e.witness = w }
}

func WithCatchupCondition(c CatchupCondition) Option {
	return func(e *Executor) { e.catchup = c }
}

// WithCatchupPacer bounds replay throughput once CatchupCondition says
// the processor is behind, so a big backlog doesn't starve live
// traffic sharing the same transport/workers — an enrichment beyond
// spec.md's original scope, noted in SPEC_FULL.md §C.
func WithCatchupPacer(limiter *rate.Limiter) Option {
	return func(e *Executor) { e.pacer = limiter }
}

func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(e *Executor) { e.deadLetter = sink }
}

// NewRouter builds the permissive, event-type-indexed Router an
// Executor dispatches through: an event type with no registered handler
// is skipped rather than treated as a routing error.
func NewRouter() *eventflow.Router[Handler] {
	return eventflow.NewRouter[Handler](false)
}

// NewExecutor builds an Executor for processorID, consuming from
// transport and dispatching via router (a permissive Router per
// spec.md's "permissive event-processor routing" exception).
func NewExecutor(processorID string, transport eventbus.Transport, router *eventflow.Router[Handler], opts ...Option) *Executor {
	e := &Executor{
		processorID: processorID,
		transport:   transport,
		router:      router,
		checkpoints: checkpoint.NewMemoryStore(),
		catchup:     Never{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drains the subscription until ctx is cancelled. It is meant to be
// called from its own goroutine by the Builder's lifecycle.
func (e *Executor) Run(ctx context.Context) error {
	events, unsubscribe, err := e.transport.Subscribe(ctx, e.processorID)
	if err != nil {
		return ferrors.Wrap(ferrors.TransientBackend, err, "processor subscribe failed")
	}
	defer unsubscribe()

	cp, err := e.checkpoints.Load(ctx, e.processorID)
	if err != nil {
		return ferrors.Wrap(ferrors.TransientBackend, err, "checkpoint load failed")
	}
	pending := make([]*eventstore.Envelope, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			pending = append(pending, event)
			lag := e.measureLag(pending)
			metrics.RecordProcessorLag(e.processorID, lag.UnprocessedEvents, lag.AverageEventAge)
			if e.catchup.ShouldCatchup(lag) && e.pacer != nil {
				if err := e.pacer.Wait(ctx); err != nil {
					return err
				}
			}
			if err := e.dispatchAndCheckpoint(ctx, event, cp); err != nil {
				log.Printf("processor[%s]: event %s failed: %v", e.processorID, event.ID, err)
				if e.deadLetter != nil {
					metrics.RecordProcessorEvent(e.processorID, "dead-lettered")
					if sendErr := e.deadLetter.Send(ctx, event, err); sendErr != nil {
						log.Printf("processor[%s]: dead-letter send failed for event %s: %v", e.processorID, event.ID, sendErr)
					}
					continue // skip past this event; no checkpoint is saved for it
				}
				metrics.RecordProcessorEvent(e.processorID, "error")
				continue
			}
			metrics.RecordProcessorEvent(e.processorID, "success")
			pending = pending[:0]
		}
	}
}

func (e *Executor) measureLag(pending []*eventstore.Envelope) Lag {
	if len(pending) == 0 {
		return Lag{}
	}
	var totalAge time.Duration
	now := time.Now().UTC()
	for _, ev := range pending {
		totalAge += now.Sub(ev.Timestamp)
	}
	return Lag{
		UnprocessedEvents: len(pending),
		AverageEventAge:   totalAge / time.Duration(len(pending)),
	}
}

// dispatchAndCheckpoint routes event to its handler (skipping silently,
// per the permissive-routing exception, if none matches) and, on
// success, advances and persists the checkpoint — optionally first
// witnessing the hash of this event (eventstore.Envelope.Hash) via
// RFC 3161.
func (e *Executor) dispatchAndCheckpoint(ctx context.Context, event *eventstore.Envelope, cp *checkpoint.Checkpoint) error {
	handler, matched, err := e.router.Route(event.Payload)
	if err != nil {
		return err
	}
	if matched {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}

	cp.LastSequence = int64(event.Sequence)
	cp.LastEventID = event.ID.String()
	cp.UpdatedAt = time.Now().UTC()

	if e.witness != nil {
		hash := event.Hash()
		proof, url, werr := e.witness.Timestamp(ctx, hash, cp.LastSequence)
		if werr != nil {
			log.Printf("processor[%s]: checkpoint witness failed, continuing unwitnessed: %v", e.processorID, werr)
		} else {
			cp.WitnessProof = proof
			cp.WitnessURL = url
		}
	}

	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return ferrors.Wrap(ferrors.TransientBackend, err, "checkpoint save failed")
	}
	return nil
}
