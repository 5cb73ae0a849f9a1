package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wms-platform/returns-service/pkg/errors"
)

func newTestReconciliation() *Reconciliation {
	req := request([]string{"A"}, map[string][]int{"A": {1}})
	req.QueueIDs = []string{"q1", "q2"}
	return NewReconciliation(req, []*QueueEntry{{ID: "q1"}, {ID: "q2"}})
}

func TestReconciliation_Complete(t *testing.T) {
	r := newTestReconciliation()
	r.OrderID = "5001"
	require.NoError(t, r.Advance(StageReturning))
	require.NoError(t, r.Advance(StageRefunding))
	r.Refund = &RefundRequest{Amount: dec("12.5"), ShippingRefund: &ShippingRefund{FullRefund: true}}
	require.NoError(t, r.Advance(StageClosing))

	r.Complete(fixedNow)

	assert.Equal(t, StageDone, r.Stage)
	for _, e := range r.Entries {
		require.NotNil(t, e.ProcessedAt)
		assert.Nil(t, e.Error)
		assert.Equal(t, time.UTC, e.ProcessedAt.Location())
	}

	require.Len(t, r.DomainEvents(), 1)
	event, ok := r.DomainEvents()[0].(*OrderReconciledEvent)
	require.True(t, ok)
	assert.Equal(t, "returns.order.reconciled", event.EventType())
	assert.True(t, event.RefundSubmitted)
	assert.Equal(t, "12.5", event.RefundAmount)
	assert.True(t, event.ShippingRefunded)
	assert.Equal(t, []string{"q1", "q2"}, event.QueueIDs)

	r.ClearDomainEvents()
	assert.Empty(t, r.DomainEvents())
}

func TestReconciliation_Fail(t *testing.T) {
	r := newTestReconciliation()

	r.Fail(apperrors.ErrOrderNotFound("SO-1"), fixedNow)

	assert.Equal(t, StageFailed, r.Stage)
	assert.Equal(t, StageFetching, r.FailedStage)
	for _, e := range r.Entries {
		assert.Nil(t, e.ProcessedAt)
		require.NotNil(t, e.Error)
		assert.Equal(t, "Order not found: SO-1", *e.Error)
	}

	event, ok := r.DomainEvents()[0].(*OrderReconciliationFailedEvent)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeOrderNotFound, event.ErrorCode)
	assert.Equal(t, StageFetching, event.Stage)
}

func TestReconciliation_TerminalIsFinal(t *testing.T) {
	r := newTestReconciliation()
	r.Fail(apperrors.ErrInternal("boom"), fixedNow)

	r.Complete(fixedNow)

	assert.Equal(t, StageFailed, r.Stage)
	assert.Len(t, r.DomainEvents(), 1)
	assert.Error(t, r.Advance(StageRefunding))
}

func TestReconciliation_AdvanceForwardOnly(t *testing.T) {
	r := newTestReconciliation()
	require.NoError(t, r.Advance(StageRefunding))

	assert.Error(t, r.Advance(StageReturning))
	assert.Error(t, r.Advance(StageDone))
	assert.NoError(t, r.Advance(StageRefunding))
}

func TestQueueEntry_Eligibility(t *testing.T) {
	e := &QueueEntry{ID: "q1"}
	assert.True(t, e.IsEligible())

	e.MarkFailed("boom")
	assert.False(t, e.IsEligible())

	e.MarkProcessed(fixedNow)
	assert.False(t, e.IsEligible())
	assert.Nil(t, e.Error)
}
