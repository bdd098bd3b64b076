// Package loader populates the registry from a manifest of number to object id
// bindings, issuing adds concurrently.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"objectmap/internal/registry/models"
)

// Adder binds one number. Satisfied by the registry service and the HTTP client.
type Adder interface {
	Add(ctx context.Context, number models.Number, id models.ObjectID) error
}

// Report summarises a load.
type Report struct {
	Total      int             `json:"total"`
	Added      int             `json:"added"`
	Duplicates []models.Number `json:"duplicates"`
}

type Loader struct {
	adder       Adder
	concurrency int
	logger      *slog.Logger
}

type Option func(*Loader)

func WithConcurrency(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func New(adder Adder, opts ...Option) *Loader {
	l := &Loader{adder: adder, concurrency: 8, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load adds every item. Numbers that are already bound are reported as
// duplicates and do not stop the load, so an interrupted load can be rerun.
// Any other failure cancels the remaining adds and is returned with the partial report.
func (l *Loader) Load(ctx context.Context, items []Item) (Report, error) {
	report := Report{Total: len(items)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, item := range items {
		g.Go(func() error {
			err := l.adder.Add(ctx, item.Number, item.ObjectID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Added++
				return nil
			case errors.Is(err, models.ErrDuplicateEntry):
				report.Duplicates = append(report.Duplicates, item.Number)
				l.logger.InfoContext(ctx, "number already bound", "number", item.Number, "line", item.Line)
				return nil
			default:
				return fmt.Errorf("line %d (number %d): %w", item.Line, item.Number, err)
			}
		})
	}
	err := g.Wait()
	slices.Sort(report.Duplicates)
	l.logger.InfoContext(ctx, "manifest load finished",
		"total", report.Total,
		"added", report.Added,
		"duplicates", len(report.Duplicates),
		"error", err,
	)
	return report, err
}
