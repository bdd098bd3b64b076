package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers lifecycle transitions that must never be lost:
	// population completing and the registry being frozen.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected privileged calls (bad capability, bad pipeline key).
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as individual entries being added.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Subject   string
	Action    string
	// Number and ObjectID are set for per-entry events.
	Number   uint32
	ObjectID string
	Reason   string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
	// ActorID is the pipeline or capability holder that performed the action.
	ActorID string
}

type AuditEvent string

const (
	EventEntryAdded          AuditEvent = "entry_added"
	EventRegistryInitialized AuditEvent = "registry_initialized"
	EventRegistryFrozen      AuditEvent = "registry_frozen"
	EventFreezeDenied        AuditEvent = "freeze_denied"
	EventSnapshotExported    AuditEvent = "snapshot_exported"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRegistryInitialized: CategoryCompliance,
	EventRegistryFrozen:      CategoryCompliance,
	EventFreezeDenied:        CategorySecurity,
	EventEntryAdded:          CategoryOperations,
	EventSnapshotExported:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Outbox-backed implementations join the caller's
// transaction when one is carried in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}
