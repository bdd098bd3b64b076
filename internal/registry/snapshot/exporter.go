package snapshot

import (
	"context"
	"log/slog"
	"time"

	"objectmap/internal/registry/models"
	audit "objectmap/pkg/platform/audit"
	"objectmap/pkg/requestcontext"
)

// Source reads the frozen registry.
type Source interface {
	Snapshot(ctx context.Context) (*models.Registry, []models.Entry, error)
}

// AuditPublisher records completed exports.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Exporter builds a document from the registry and hands it to a sink.
type Exporter struct {
	source  Source
	sink    Sink
	logger  *slog.Logger
	auditor AuditPublisher
	timeout time.Duration
}

type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Exporter) { e.auditor = p }
}

// WithTimeout bounds an export triggered by the freeze hook.
func WithTimeout(d time.Duration) Option {
	return func(e *Exporter) { e.timeout = d }
}

func NewExporter(source Source, sink Sink, opts ...Option) *Exporter {
	e := &Exporter{source: source, sink: sink, logger: slog.New(slog.DiscardHandler), timeout: time.Minute}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the current frozen mapping and returns the document and its location.
func (e *Exporter) Export(ctx context.Context) (*Document, string, error) {
	reg, entries, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	doc, err := Build(reg, entries)
	if err != nil {
		return nil, "", err
	}
	data, err := Encode(doc)
	if err != nil {
		return nil, "", err
	}
	location, err := e.sink.Put(ctx, Name(doc), data, doc.Digest)
	if err != nil {
		return nil, "", err
	}

	e.logger.InfoContext(ctx, string(audit.EventSnapshotExported),
		"location", location,
		"digest", doc.Digest,
		"size", doc.Size,
		"event", string(audit.EventSnapshotExported),
		"log_type", "audit",
	)
	if e.auditor != nil {
		if err := e.auditor.Emit(ctx, audit.Event{
			Category:  audit.EventSnapshotExported.Category(),
			Action:    string(audit.EventSnapshotExported),
			Timestamp: requestcontext.Now(ctx),
			Subject:   "registry",
			Reason:    location + " " + doc.Digest,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			e.logger.WarnContext(ctx, "failed to audit snapshot export", "error", err)
		}
	}
	return doc, location, nil
}

// RegistryFrozen exports once the freeze has committed. The freeze itself already
// succeeded, so failures are only logged; the export can be rerun from the CLI.
func (e *Exporter) RegistryFrozen(ctx context.Context, _ *models.Registry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if _, _, err := e.Export(ctx); err != nil {
		e.logger.ErrorContext(ctx, "snapshot export after freeze failed", "error", err)
	}
}
