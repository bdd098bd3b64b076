package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"objectmap/internal/registry/models"
	"objectmap/internal/registry/store"
	dErrors "objectmap/pkg/domain-errors"
	audit "objectmap/pkg/platform/audit"
	"objectmap/pkg/platform/sentinel"
	"objectmap/pkg/requestcontext"
)

// Bootstrap creates the registry for the configured collection if it does not
// exist yet. Restarting with a different collection size is refused.
func (s *Service) Bootstrap(ctx context.Context, owner string) (*models.Registry, error) {
	reg, err := models.NewRegistry(s.sizes.Size(), owner, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Init(ctx, reg); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored registry does not match the configured collection")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to bootstrap registry")
	}
	state, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	s.observeState(state)
	return state, nil
}

// Add binds number to id. It is reachable only through the pipeline surface.
//
// A number outside [1, N] is a caller bug and is reported as an invariant
// violation without touching state. A number already bound is DuplicateEntry.
// The add that stores the Nth entry flips the registry to initialized in the
// same transaction.
func (s *Service) Add(ctx context.Context, number models.Number, id models.ObjectID) error {
	ctx, span := tracer.Start(ctx, "registry.Add", trace.WithAttributes(
		attribute.Int64("registry.number", int64(number)),
	))
	defer span.End()
	start := time.Now()
	defer s.observeDuration("add", start)

	size := s.sizes.Size()
	if !number.InRange(size) {
		s.logger.ErrorContext(ctx, "add called with number outside the collection",
			"number", number,
			"size", size,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.incrementRejection("add", models.ErrInvalidNumber)
		return dErrors.Wrap(models.ErrInvalidNumber, dErrors.CodeInvariantViolation,
			fmt.Sprintf("number %d is outside [1, %d]", number, size))
	}
	if id.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "object id cannot be zero")
	}

	now := requestcontext.Now(ctx)
	var (
		completed bool
		state     *models.Registry
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.TxStore) error {
		reg, err := tx.LockState(ctx)
		if err != nil {
			return wrapStateErr(err)
		}
		exists, err := tx.HasEntry(ctx, number)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check entry")
		}
		if exists {
			return duplicate(number)
		}
		if err := reg.CanAdd(number); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, models.Entry{Number: number, ObjectID: id, AddedAt: now}); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return duplicate(number)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store entry")
		}
		completed = reg.ApplyAdd(now)
		if err := tx.SaveState(ctx, reg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registry state")
		}

		if err := s.emit(ctx, audit.Event{
			Action:    string(audit.EventEntryAdded),
			Timestamp: now,
			Subject:   "registry",
			Number:    uint32(number),
			ObjectID:  id.String(),
			ActorID:   reg.Ownership.Owner,
		}); err != nil {
			return err
		}
		if completed {
			if err := s.emit(ctx, audit.Event{
				Action:    string(audit.EventRegistryInitialized),
				Timestamp: now,
				Subject:   "registry",
				ActorID:   reg.Ownership.Owner,
			}); err != nil {
				return err
			}
		}
		state = reg
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.incrementRejection("add", err)
		return err
	}

	s.incrementEntriesAdded()
	s.observeState(state)
	s.logger.DebugContext(ctx, "entry added",
		"number", number,
		"count", state.Count,
		"size", state.Size,
		"request_id", requestcontext.RequestID(ctx),
	)
	if completed {
		s.logAudit(ctx, string(audit.EventRegistryInitialized), "size", state.Size)
	}
	return nil
}

func duplicate(number models.Number) error {
	return dErrors.Wrap(models.ErrDuplicateEntry, dErrors.CodeConflict,
		fmt.Sprintf("number %d already has an object id", number))
}
