package command

import (
	"context"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/aggregate"
)

// repository is the subset of *aggregate.Repository[R] DelegateToAggregate
// needs, kept as a local interface so this file doesn't force a type
// parameter onto Handler itself (Handler must stay non-generic: a Bus
// routes many different aggregate types' commands through one router).
type repository[R aggregate.Root] interface {
	Handle(ctx context.Context, id eventflow.ID, cmd eventflow.Command) (*aggregate.Instance[R], error)
}

// DelegateToAggregate builds the terminal Handler for a command type
// whose one-aggregate-per-command routing target is repo: it calls
// repo.Handle with the command's own AggregateID and returns the
// resulting instance's version as the dispatch result (callers that
// want the full post-command state can Load it again from the
// repository; the bus result is deliberately thin).
func DelegateToAggregate[R aggregate.Root](repo repository[R]) Handler {
	return func(ctx context.Context, cmd eventflow.Command) (any, error) {
		inst, err := repo.Handle(ctx, cmd.AggregateID(), cmd)
		if err != nil {
			return nil, err
		}
		return inst.Version(), nil
	}
}
