package domain

import (
	"context"
)

// QueueRepository defines the interface for returned-item queue persistence
type QueueRepository interface {
	// FindUnprocessedReturns retrieves entries with neither processedAt nor error
	// set, oldest first. A limit of 0 means no limit. A positive limit never
	// splits a sales order across runs.
	FindUnprocessedReturns(ctx context.Context, limit int) ([]*QueueEntry, error)

	// Persist writes the queue entry mutations of a reconciliation together with
	// its pending domain events
	Persist(ctx context.Context, reconciliation *Reconciliation) error
}
