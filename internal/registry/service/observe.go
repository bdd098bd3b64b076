package service

import (
	"context"
	"errors"
	"time"

	"objectmap/internal/registry/models"
	dErrors "objectmap/pkg/domain-errors"
	audit "objectmap/pkg/platform/audit"
	"objectmap/pkg/platform/sentinel"
	"objectmap/pkg/requestcontext"
)

var phases = []string{
	string(models.PhaseEmpty),
	string(models.PhasePopulating),
	string(models.PhaseInitialized),
	string(models.PhaseFrozen),
}

func wrapStateErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "registry has not been bootstrapped")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInternal, "stored registry state is inconsistent")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry state")
	}
}

// emit writes an audit event. Without a publisher it is a no-op.
func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func (s *Service) incrementRejection(operation string, err error) {
	if s.metrics == nil {
		return
	}
	kind := models.ErrorKind(err)
	if kind == "" {
		kind = string(dErrors.CodeOf(err))
	}
	s.metrics.IncrementRejection(operation, kind)
}

func (s *Service) incrementEntriesAdded() {
	if s.metrics != nil {
		s.metrics.IncrementEntriesAdded()
	}
}

func (s *Service) incrementFreezes() {
	if s.metrics != nil {
		s.metrics.IncrementFreezes()
	}
}

func (s *Service) incrementLookup(source string) {
	if s.metrics != nil {
		s.metrics.IncrementLookup(source)
	}
}

func (s *Service) observeState(reg *models.Registry) {
	if s.metrics != nil && reg != nil {
		s.metrics.SetState(reg.Count, string(reg.Phase()), phases)
	}
}

func (s *Service) observeDuration(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start)
	}
}
