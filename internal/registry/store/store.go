// Package store persists the registry aggregate and its entries.
//
// Two implementations share one contract: InMemory for tests and single-process
// deployments, Postgres for durable storage. Both return sentinel errors:
// ErrNotFound when the registry has not been bootstrapped or an entry is absent,
// ErrAlreadyUsed when a number is inserted twice.
package store

import (
	"context"

	"objectmap/internal/registry/models"
)

// TxStore is the write view available inside RunInTx. Changes made through it
// commit together or not at all.
type TxStore interface {
	// LockState loads the registry and holds it exclusively until the transaction ends.
	LockState(ctx context.Context) (*models.Registry, error)
	SaveState(ctx context.Context, reg *models.Registry) error
	HasEntry(ctx context.Context, number models.Number) (bool, error)
	InsertEntry(ctx context.Context, entry models.Entry) error
}
