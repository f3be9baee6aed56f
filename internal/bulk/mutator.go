// Package bulk applies one mutation to many targets and reports per-target outcomes.
package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// ErrRolledBack marks targets whose changes were discarded because another
// target in the same atomic run failed.
var ErrRolledBack = errors.New("bulk: rolled back")

// Failure records why one target was not applied.
type Failure[ID comparable] struct {
	ID  ID    `json:"id"`
	Err error `json:"-"`
}

// MarshalJSON renders the failure with a caller-safe reason.
func (f Failure[ID]) MarshalJSON() ([]byte, error) {
	reason := shared.UserSafeMessage(f.Err)
	if errors.Is(f.Err, ErrRolledBack) {
		reason = f.Err.Error()
	}
	return json.Marshal(struct {
		ID    ID     `json:"id"`
		Error string `json:"error"`
	}{ID: f.ID, Error: reason})
}

// Report lists the outcome of every requested target exactly once.
type Report[ID comparable] struct {
	OperationID uuid.UUID     `json:"operation_id"`
	Atomic      bool          `json:"atomic"`
	Succeeded   []ID          `json:"succeeded"`
	Failed      []Failure[ID] `json:"failed"`
}

// Total is the number of distinct targets.
func (r Report[ID]) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Err returns a *shared.PartialFailureError when any target failed.
func (r Report[ID]) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &shared.PartialFailureError{Succeeded: len(r.Succeeded), Total: r.Total()}
}

// TxRunner runs fn inside one all-or-nothing transaction over S.
type TxRunner[S any] interface {
	WithTx(ctx context.Context, fn func(context.Context, S) error) error
}

// Mutator carries the store and the commit mode of a bulk run.
type Mutator[S any] struct {
	Store S
	// Tx enables atomic mode when non-nil and Atomic is set.
	Tx     TxRunner[S]
	Atomic bool
	Logger *slog.Logger
}

// Op mutates one target.
type Op[S any, ID comparable] func(ctx context.Context, store S, id ID) error

// Run applies op to every distinct id in order. Runs are detached from ctx
// cancellation: once started they finish and report what was applied.
func Run[S any, ID comparable](ctx context.Context, m Mutator[S], ids []ID, op Op[S, ID]) Report[ID] {
	ctx = context.WithoutCancel(ctx)
	targets := dedupe(ids)
	report := Report[ID]{
		OperationID: uuid.New(),
		Succeeded:   make([]ID, 0, len(targets)),
		Failed:      make([]Failure[ID], 0),
	}
	if m.Atomic && m.Tx != nil {
		report.Atomic = true
		runAtomic(ctx, m, targets, op, &report)
	} else {
		runSequential(ctx, m, targets, op, &report)
	}
	if m.Logger != nil {
		m.Logger.Info("bulk run",
			slog.String("operation_id", report.OperationID.String()),
			slog.Bool("atomic", report.Atomic),
			slog.Int("succeeded", len(report.Succeeded)),
			slog.Int("failed", len(report.Failed)),
		)
	}
	return report
}

func runSequential[S any, ID comparable](ctx context.Context, m Mutator[S], ids []ID, op Op[S, ID], report *Report[ID]) {
	for _, id := range ids {
		if err := op(ctx, m.Store, id); err != nil {
			report.Failed = append(report.Failed, Failure[ID]{ID: id, Err: err})
			continue
		}
		report.Succeeded = append(report.Succeeded, id)
	}
}

func runAtomic[S any, ID comparable](ctx context.Context, m Mutator[S], ids []ID, op Op[S, ID], report *Report[ID]) {
	var (
		failedID  ID
		failedErr error
	)
	err := m.Tx.WithTx(ctx, func(ctx context.Context, store S) error {
		for _, id := range ids {
			if err := op(ctx, store, id); err != nil {
				failedID, failedErr = id, err
				return err
			}
		}
		return nil
	})
	if err == nil {
		report.Succeeded = append(report.Succeeded, ids...)
		return
	}
	for _, id := range ids {
		cause := error(ErrRolledBack)
		switch {
		case failedErr != nil && id == failedID:
			cause = failedErr
		case failedErr == nil:
			cause = err
		}
		report.Failed = append(report.Failed, Failure[ID]{ID: id, Err: cause})
	}
}

func dedupe[ID comparable](ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
