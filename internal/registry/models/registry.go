package models

import (
	"time"

	dErrors "objectmap/pkg/domain-errors"
)

// Phase is the derived lifecycle stage of the registry.
type Phase string

const (
	PhaseEmpty       Phase = "empty"
	PhasePopulating  Phase = "populating"
	PhaseInitialized Phase = "initialized"
	PhaseFrozen      Phase = "frozen"
)

// OwnershipKind tags who may write the registry.
type OwnershipKind string

const (
	// OwnershipMutable: only the owning pipeline may write.
	OwnershipMutable OwnershipKind = "mutable"
	// OwnershipShared: published read-only to everyone, no writes.
	OwnershipShared OwnershipKind = "shared"
)

// Ownership is the registry's write authority. Owner is empty once shared.
type Ownership struct {
	Kind  OwnershipKind `json:"kind"`
	Owner string        `json:"owner,omitempty"`
}

func Mutable(owner string) Ownership {
	return Ownership{Kind: OwnershipMutable, Owner: owner}
}

func Shared() Ownership {
	return Ownership{Kind: OwnershipShared}
}

func (o Ownership) IsShared() bool {
	return o.Kind == OwnershipShared
}

// Entry is one number to object id binding.
type Entry struct {
	Number   Number    `json:"number"`
	ObjectID ObjectID  `json:"object_id"`
	AddedAt  time.Time `json:"added_at"`
}

// Registry is the aggregate root for the number to object id table.
//
// Invariants:
//   - 0 <= Count <= Size, Size > 0
//   - Initialized iff Count == Size, flipped in the same step as the last add
//   - Frozen implies Initialized; Frozen never reverts
//   - Ownership is Shared iff Frozen
//
// Count is the number of stored entries; the store keeps it in step with the entry
// table inside the same transaction.
type Registry struct {
	Size          int        `json:"size"`
	Count         int        `json:"count"`
	Initialized   bool       `json:"initialized"`
	Frozen        bool       `json:"frozen"`
	Ownership     Ownership  `json:"ownership"`
	CreatedAt     time.Time  `json:"created_at"`
	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	FrozenAt      *time.Time `json:"frozen_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewRegistry constructs an empty registry owned by owner.
func NewRegistry(size int, owner string, now time.Time) (*Registry, error) {
	if size <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collection size must be positive")
	}
	if owner == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "registry owner cannot be empty")
	}
	return &Registry{
		Size:      size,
		Ownership: Mutable(owner),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Registry) Phase() Phase {
	switch {
	case r.Frozen:
		return PhaseFrozen
	case r.Initialized:
		return PhaseInitialized
	case r.Count == 0:
		return PhaseEmpty
	default:
		return PhasePopulating
	}
}

// CanAdd checks whether number may be bound. Duplicate detection needs the entry
// table and is done by the caller before this check.
func (r *Registry) CanAdd(number Number) error {
	if !number.InRange(r.Size) {
		return ErrInvalidNumber
	}
	if r.Initialized || r.Frozen || r.Ownership.IsShared() {
		return ErrAlreadyInitialized
	}
	return nil
}

// ApplyAdd records one stored entry. It reports true when this add filled the table,
// in which case Initialized is set in the same step.
// Must only be called after CanAdd returns nil and the entry was stored.
func (r *Registry) ApplyAdd(now time.Time) bool {
	r.Count++
	r.UpdatedAt = now
	if r.Count == r.Size {
		r.Initialized = true
		r.InitializedAt = &now
		return true
	}
	return false
}

// CanFreeze checks freeze preconditions, AlreadyFrozen before NotInitialized.
// Capability verification happens before this and is not the aggregate's concern.
func (r *Registry) CanFreeze() error {
	if r.Frozen {
		return ErrAlreadyFrozen
	}
	if !r.Initialized {
		return ErrNotInitialized
	}
	return nil
}

// ApplyFreeze makes the registry immutable and publicly readable.
// Must only be called after CanFreeze returns nil.
func (r *Registry) ApplyFreeze(now time.Time) {
	r.Frozen = true
	r.FrozenAt = &now
	r.Ownership = Shared()
	r.UpdatedAt = now
}

// CanLookup checks read gating: range first, then frozen.
func (r *Registry) CanLookup(number Number) error {
	if !number.InRange(r.Size) {
		return ErrInvalidNumber
	}
	if !r.Frozen {
		return ErrNotFrozen
	}
	return nil
}

// CanRead gates bulk reads that carry no number.
func (r *Registry) CanRead() error {
	if !r.Frozen {
		return ErrNotFrozen
	}
	return nil
}

// Validate checks the aggregate invariants of persisted state.
func (r *Registry) Validate() error {
	switch {
	case r.Size <= 0:
		return dErrors.New(dErrors.CodeInvariantViolation, "collection size must be positive")
	case r.Count < 0 || r.Count > r.Size:
		return dErrors.New(dErrors.CodeInvariantViolation, "entry count outside [0, size]")
	case r.Initialized != (r.Count == r.Size):
		return dErrors.New(dErrors.CodeInvariantViolation, "initialized flag disagrees with entry count")
	case r.Frozen && !r.Initialized:
		return dErrors.New(dErrors.CodeInvariantViolation, "frozen registry is not initialized")
	case r.Frozen != r.Ownership.IsShared():
		return dErrors.New(dErrors.CodeInvariantViolation, "ownership disagrees with frozen flag")
	}
	return nil
}

// Clone returns a copy safe to hand out of a store.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	c := *r
	if r.InitializedAt != nil {
		t := *r.InitializedAt
		c.InitializedAt = &t
	}
	if r.FrozenAt != nil {
		t := *r.FrozenAt
		c.FrozenAt = &t
	}
	return &c
}
