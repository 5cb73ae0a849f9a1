package domain

import (
	"fmt"
	"time"

	apperrors "github.com/wms-platform/returns-service/pkg/errors"
)

// Stage is a step of the per-order reconciliation
type Stage string

const (
	StageFetching         Stage = "fetching"
	StageReturning        Stage = "returning"
	StageRefunding        Stage = "refunding"
	StageClosing          Stage = "closing"
	StageMarkingProcessed Stage = "marking_processed"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageFetching:         0,
	StageReturning:        1,
	StageRefunding:        2,
	StageClosing:          3,
	StageMarkingProcessed: 4,
	StageDone:             5,
}

// IsTerminal reports whether no further transition is possible
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Reconciliation is the unit of work for one sales order. Every exit path
// mutates all of its queue entries exactly once.
type Reconciliation struct {
	Request *MergedRequest
	Entries []*QueueEntry

	OrderID         string
	Stage           Stage
	FailedStage     Stage
	ReturnSubmitted bool
	Refund          *RefundRequest
	ReturnsClosed   int
	Returned        int
	Shortfalls      []Shortfall
	Err             error

	domainEvents []DomainEvent
}

// NewReconciliation starts a unit of work in the Fetching stage
func NewReconciliation(request *MergedRequest, entries []*QueueEntry) *Reconciliation {
	return &Reconciliation{
		Request:      request,
		Entries:      entries,
		Stage:        StageFetching,
		domainEvents: make([]DomainEvent, 0, 1),
	}
}

// Advance moves to the next stage. Stages only move forward.
func (r *Reconciliation) Advance(next Stage) error {
	if r.Stage.IsTerminal() {
		return fmt.Errorf("reconciliation of %s already %s", r.Request.SalesOrderNumber, r.Stage)
	}
	if next == StageFailed || next == StageDone {
		return fmt.Errorf("use Fail or Complete to reach %s", next)
	}
	if stageOrder[next] <= stageOrder[r.Stage] && next != r.Stage {
		return fmt.Errorf("cannot move from %s back to %s", r.Stage, next)
	}
	r.Stage = next
	return nil
}

// Complete marks every queue entry processed
func (r *Reconciliation) Complete(at time.Time) {
	if r.Stage.IsTerminal() {
		return
	}
	r.Stage = StageMarkingProcessed
	for _, e := range r.Entries {
		e.MarkProcessed(at)
	}
	r.Stage = StageDone

	event := &OrderReconciledEvent{
		SalesOrderNumber: r.Request.SalesOrderNumber,
		OrderID:          r.OrderID,
		QueueIDs:         r.Request.QueueIDs,
		ReturnedQuantity: r.Returned,
		ReturnSubmitted:  r.ReturnSubmitted,
		ReturnsClosed:    r.ReturnsClosed,
		Shortfalls:       r.Shortfalls,
		ReconciledAt:     at.UTC(),
	}
	if r.Refund != nil {
		event.RefundSubmitted = true
		event.RefundAmount = r.Refund.Amount.String()
		event.ShippingRefunded = r.Refund.ShippingRefund != nil
	}
	r.addDomainEvent(event)
}

// Fail records err on every queue entry without setting processedAt
func (r *Reconciliation) Fail(err error, at time.Time) {
	if r.Stage.IsTerminal() {
		return
	}
	r.FailedStage = r.Stage
	r.Stage = StageFailed
	r.Err = err
	for _, e := range r.Entries {
		e.MarkFailed(err.Error())
	}

	r.addDomainEvent(&OrderReconciliationFailedEvent{
		SalesOrderNumber: r.Request.SalesOrderNumber,
		OrderID:          r.OrderID,
		QueueIDs:         r.Request.QueueIDs,
		Stage:            r.FailedStage,
		ErrorCode:        apperrors.CodeOf(err),
		Reason:           err.Error(),
		FailedAt:         at.UTC(),
	})
}

func (r *Reconciliation) addDomainEvent(event DomainEvent) {
	r.domainEvents = append(r.domainEvents, event)
}

// DomainEvents returns all pending domain events
func (r *Reconciliation) DomainEvents() []DomainEvent {
	return r.domainEvents
}

// ClearDomainEvents clears all pending domain events
func (r *Reconciliation) ClearDomainEvents() {
	r.domainEvents = make([]DomainEvent, 0)
}
