package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"objectmap/internal/registry/models"
	dErrors "objectmap/pkg/domain-errors"
	"objectmap/pkg/platform/sentinel"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Lookup returns the object id bound to number. Range is checked before the
// frozen gate, so an out-of-range number is InvalidNumber even before freeze.
func (s *Service) Lookup(ctx context.Context, number models.Number) (models.ObjectID, error) {
	ctx, span := tracer.Start(ctx, "registry.Lookup", trace.WithAttributes(
		attribute.Int64("registry.number", int64(number)),
	))
	defer span.End()
	start := time.Now()
	defer s.observeDuration("lookup", start)

	reg, err := s.readState(ctx)
	if err != nil {
		return models.ObjectID{}, err
	}
	if err := reg.CanLookup(number); err != nil {
		s.incrementRejection("lookup", err)
		return models.ObjectID{}, err
	}

	if s.cache != nil {
		id, ok, err := s.cache.Get(ctx, number)
		if err != nil {
			s.logger.WarnContext(ctx, "lookup cache read failed", "number", number, "error", err)
		} else if ok {
			s.incrementLookup("cache")
			return id, nil
		}
	}

	entry, err := s.store.FindEntry(ctx, number)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Frozen implies every number in range is bound.
			return models.ObjectID{}, dErrors.Wrap(err, dErrors.CodeInternal,
				fmt.Sprintf("frozen registry has no entry for %d", number))
		}
		return models.ObjectID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entry")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, number, entry.ObjectID); err != nil {
			s.logger.WarnContext(ctx, "lookup cache write failed", "number", number, "error", err)
		}
	}
	s.incrementLookup("store")
	return entry.ObjectID, nil
}

// Status reports the registry's lifecycle state. It is always allowed.
func (s *Service) Status(ctx context.Context) (*models.Registry, error) {
	return s.readState(ctx)
}

// List returns up to limit entries with Number >= from in ascending order. It is
// gated like Lookup.
func (s *Service) List(ctx context.Context, from models.Number, limit int) ([]models.Entry, error) {
	reg, err := s.readState(ctx)
	if err != nil {
		return nil, err
	}
	if err := reg.CanRead(); err != nil {
		s.incrementRejection("list", err)
		return nil, err
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if from < 1 {
		from = 1
	}
	entries, err := s.store.ListEntries(ctx, from, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entries")
	}
	return entries, nil
}

// Snapshot returns the frozen registry and all of its entries in number order.
func (s *Service) Snapshot(ctx context.Context) (*models.Registry, []models.Entry, error) {
	ctx, span := tracer.Start(ctx, "registry.Snapshot")
	defer span.End()

	reg, err := s.readState(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := reg.CanRead(); err != nil {
		return nil, nil, err
	}
	entries, err := s.store.ListEntries(ctx, 1, 0)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entries")
	}
	if len(entries) != reg.Size {
		return nil, nil, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("frozen registry has %d entries, expected %d", len(entries), reg.Size))
	}
	return reg, entries, nil
}

// readState returns the latched frozen state when available, else loads it.
func (s *Service) readState(ctx context.Context) (*models.Registry, error) {
	if reg := s.frozen.Load(); reg != nil {
		return reg.Clone(), nil
	}
	return s.loadState(ctx)
}

func (s *Service) loadState(ctx context.Context) (*models.Registry, error) {
	reg, err := s.store.LoadState(ctx)
	if err != nil {
		return nil, wrapStateErr(err)
	}
	if reg.Frozen {
		s.frozen.CompareAndSwap(nil, reg.Clone())
	}
	return reg, nil
}
