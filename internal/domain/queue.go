package domain

import (
	"time"
)

// QueueEntry is one returned-item record produced by the upstream returns feed
type QueueEntry struct {
	ID               string     `bson:"_id" json:"id"`
	SalesOrderNumber string     `bson:"salesOrderNumber" json:"salesOrderNumber"`
	Payload          string     `bson:"payload" json:"payload"`
	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	ProcessedAt      *time.Time `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	Error            *string    `bson:"error,omitempty" json:"error,omitempty"`
}

// IsEligible reports whether the entry has not been processed or failed yet
func (e *QueueEntry) IsEligible() bool {
	return e.ProcessedAt == nil && e.Error == nil
}

// MarkProcessed records a successful reconciliation
func (e *QueueEntry) MarkProcessed(at time.Time) {
	at = at.UTC()
	e.ProcessedAt = &at
	e.Error = nil
}

// MarkFailed records the failure reason. ProcessedAt stays unset.
func (e *QueueEntry) MarkFailed(reason string) {
	e.Error = &reason
	e.ProcessedAt = nil
}

// MergedRequest aggregates every queue entry of one sales order
type MergedRequest struct {
	SalesOrderNumber string
	// SKUs in order of first appearance; LineItems has one key per element
	SKUs      []string
	LineItems map[string][]int
	// QueueIDs is an ordered set of contributing entry ids
	QueueIDs []string
	// Err is set when any entry of this order carried a malformed payload
	Err error

	seen map[string]struct{}
}

func newMergedRequest(salesOrderNumber string) *MergedRequest {
	return &MergedRequest{
		SalesOrderNumber: salesOrderNumber,
		LineItems:        make(map[string][]int),
		seen:             make(map[string]struct{}),
	}
}

func (r *MergedRequest) addQueueID(id string) {
	if _, ok := r.seen[id]; ok {
		return
	}
	r.seen[id] = struct{}{}
	r.QueueIDs = append(r.QueueIDs, id)
}

func (r *MergedRequest) add(sku string, qty int) {
	if _, ok := r.LineItems[sku]; !ok {
		r.SKUs = append(r.SKUs, sku)
	}
	r.LineItems[sku] = append(r.LineItems[sku], qty)
}

// Has reports whether sku was requested
func (r *MergedRequest) Has(sku string) bool {
	_, ok := r.LineItems[sku]
	return ok
}

// TotalQuantity sums every requested quantity for sku
func (r *MergedRequest) TotalQuantity(sku string) int {
	total := 0
	for _, q := range r.LineItems[sku] {
		total += q
	}
	return total
}
