package service

import (
	"context"
	"time"

	"objectmap/internal/registry/models"
	"objectmap/internal/registry/store"
	dErrors "objectmap/pkg/domain-errors"
	audit "objectmap/pkg/platform/audit"
	"objectmap/pkg/requestcontext"
)

// Freeze makes the registry immutable and readable. The capability is verified
// before any state is read; then AlreadyFrozen is reported before NotInitialized.
// Of several concurrent freezes exactly one succeeds.
func (s *Service) Freeze(ctx context.Context, capability, caller string) (*models.Registry, error) {
	ctx, span := tracer.Start(ctx, "registry.Freeze")
	defer span.End()
	start := time.Now()
	defer s.observeDuration("freeze", start)

	now := requestcontext.Now(ctx)
	if err := s.authority.Verify(ctx, capability, caller); err != nil {
		s.logger.WarnContext(ctx, "freeze capability rejected",
			"caller", caller,
			"reason", dErrors.MessageOf(err),
			"request_id", requestcontext.RequestID(ctx),
		)
		// Best effort: a rejected call has no transaction to join.
		if emitErr := s.emit(ctx, audit.Event{
			Action:    string(audit.EventFreezeDenied),
			Timestamp: now,
			Subject:   "registry",
			Reason:    dErrors.MessageOf(err),
			ActorID:   caller,
		}); emitErr != nil {
			s.logger.ErrorContext(ctx, "failed to record freeze denial", "error", emitErr)
		}
		s.incrementRejection("freeze", models.ErrUnauthorized)
		span.RecordError(err)
		return nil, dErrors.Wrap(models.ErrUnauthorized, dErrors.CodeUnauthorized, "caller does not hold the freeze capability")
	}

	var frozen *models.Registry
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.TxStore) error {
		reg, err := tx.LockState(ctx)
		if err != nil {
			return wrapStateErr(err)
		}
		if err := reg.CanFreeze(); err != nil {
			return err
		}
		reg.ApplyFreeze(now)
		if err := tx.SaveState(ctx, reg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registry state")
		}
		if err := s.emit(ctx, audit.Event{
			Action:    string(audit.EventRegistryFrozen),
			Timestamp: now,
			Subject:   "registry",
			ActorID:   caller,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return err
		}
		frozen = reg
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.incrementRejection("freeze", err)
		return nil, err
	}

	s.frozen.Store(frozen.Clone())
	s.incrementFreezes()
	s.observeState(frozen)
	s.logAudit(ctx, string(audit.EventRegistryFrozen), "caller", caller, "size", frozen.Size)

	s.warmCache(ctx)
	for _, l := range s.listeners {
		l.RegistryFrozen(ctx, frozen.Clone())
	}
	return frozen.Clone(), nil
}

func (s *Service) warmCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	entries, err := s.store.ListEntries(ctx, 1, 0)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read entries for cache warm", "error", err)
		return
	}
	if err := s.cache.Warm(ctx, entries); err != nil {
		s.logger.WarnContext(ctx, "failed to warm lookup cache", "error", err)
	}
}
