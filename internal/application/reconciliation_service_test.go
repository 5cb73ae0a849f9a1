package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/returns-service/internal/domain"
	apperrors "github.com/wms-platform/returns-service/pkg/errors"
	"github.com/wms-platform/returns-service/pkg/logging"
	"github.com/wms-platform/returns-service/pkg/metrics"
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeQueueRepo struct {
	findFn    func(context.Context, int) ([]*domain.QueueEntry, error)
	persistFn func(context.Context, *domain.Reconciliation) error
	persisted []*domain.Reconciliation
}

func (f *fakeQueueRepo) FindUnprocessedReturns(ctx context.Context, limit int) ([]*domain.QueueEntry, error) {
	if f.findFn != nil {
		return f.findFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeQueueRepo) Persist(ctx context.Context, rec *domain.Reconciliation) error {
	f.persisted = append(f.persisted, rec)
	if f.persistFn != nil {
		return f.persistFn(ctx, rec)
	}
	return nil
}

type fakeResolver struct {
	getOrderIDFn      func(context.Context, string) (string, bool, error)
	getOrderDetailsFn func(context.Context, string) (*domain.Order, error)
}

func (f *fakeResolver) GetOrderID(ctx context.Context, son string) (string, bool, error) {
	if f.getOrderIDFn != nil {
		return f.getOrderIDFn(ctx, son)
	}
	return "order-" + son, true, nil
}

func (f *fakeResolver) GetOrderDetails(ctx context.Context, orderID string) (*domain.Order, error) {
	if f.getOrderDetailsFn != nil {
		return f.getOrderDetailsFn(ctx, orderID)
	}
	return nil, nil
}

type fakePlatform struct {
	getReturnFn       func(context.Context, string, int) (*domain.ReturnsState, error)
	getFulfillmentsFn func(context.Context, string) ([]domain.Fulfillment, error)
	returnOrderFn     func(context.Context, *domain.ReturnRequest) error
	refundOrderFn     func(context.Context, *domain.RefundRequest) error
	closeReturnFn     func(context.Context, string) error

	getReturnCalls int
	returns        []*domain.ReturnRequest
	refunds        []*domain.RefundRequest
	closed         []string
}

func (f *fakePlatform) GetReturn(ctx context.Context, orderID string) (*domain.ReturnsState, error) {
	f.getReturnCalls++
	if f.getReturnFn != nil {
		return f.getReturnFn(ctx, orderID, f.getReturnCalls)
	}
	return nil, nil
}

func (f *fakePlatform) GetFulfillments(ctx context.Context, orderID string) ([]domain.Fulfillment, error) {
	if f.getFulfillmentsFn != nil {
		return f.getFulfillmentsFn(ctx, orderID)
	}
	return nil, nil
}

func (f *fakePlatform) ReturnOrder(ctx context.Context, req *domain.ReturnRequest) error {
	if f.returnOrderFn != nil {
		if err := f.returnOrderFn(ctx, req); err != nil {
			return err
		}
	}
	f.returns = append(f.returns, req)
	return nil
}

func (f *fakePlatform) RefundOrder(ctx context.Context, req *domain.RefundRequest) error {
	if f.refundOrderFn != nil {
		if err := f.refundOrderFn(ctx, req); err != nil {
			return err
		}
	}
	f.refunds = append(f.refunds, req)
	return nil
}

func (f *fakePlatform) CloseReturn(ctx context.Context, returnID string) error {
	if f.closeReturnFn != nil {
		if err := f.closeReturnFn(ctx, returnID); err != nil {
			return err
		}
	}
	f.closed = append(f.closed, returnID)
	return nil
}

func paidOrder(id string) *domain.Order {
	return &domain.Order{
		ID:              id,
		FinancialStatus: domain.FinancialStatusPaid,
		LineItems: []domain.LineItem{
			{ID: "LI-A", SKU: "A", LocationID: "LOC-1", Price: decimal.NewFromInt(20)},
		},
		Fulfillments: []domain.Fulfillment{{
			ID:        "F1",
			LineItems: []domain.FulfillmentLineItem{{ID: "FLI-A", SKU: "A", FulfilledQuantity: 10}},
		}},
		TotalShipping: decimal.NewFromInt(5),
		PaymentDetails: []domain.PaymentDetail{
			{PayChannel: "stripe", PaySeq: "P-1", PayStatus: domain.PayStatusPaid},
		},
	}
}

func queueEntry(id, son, payload string) *domain.QueueEntry {
	return &domain.QueueEntry{ID: id, SalesOrderNumber: son, Payload: payload}
}

type harness struct {
	repo     *fakeQueueRepo
	resolver *fakeResolver
	platform *fakePlatform
	metrics  *metrics.Metrics
}

func newHarness(entries ...*domain.QueueEntry) *harness {
	return &harness{
		repo: &fakeQueueRepo{findFn: func(context.Context, int) ([]*domain.QueueEntry, error) {
			return entries, nil
		}},
		resolver: &fakeResolver{getOrderDetailsFn: func(_ context.Context, id string) (*domain.Order, error) {
			return paidOrder(id), nil
		}},
		platform: &fakePlatform{getFulfillmentsFn: func(context.Context, string) ([]domain.Fulfillment, error) {
			return paidOrder("").Fulfillments, nil
		}},
		metrics: metrics.New(metrics.DefaultConfig("refund-processor")),
	}
}

func (h *harness) service(policy domain.FailurePolicy) *ReconciliationService {
	return NewReconciliationService(h.repo, h.resolver, h.platform, logging.NewNop(), Options{
		Policy:  policy,
		Metrics: h.metrics,
		Now:     func() time.Time { return testNow },
	})
}

func TestRun_EmptyQueue(t *testing.T) {
	h := newHarness()

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Orders)
	assert.Empty(t, h.repo.persisted)
	assert.Zero(t, h.platform.getReturnCalls)
}

func TestRun_QueueReadFails(t *testing.T) {
	h := newHarness()
	h.repo.findFn = func(context.Context, int) ([]*domain.QueueEntry, error) {
		return nil, errors.New("mongo down")
	}

	_, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo down")
}

func TestRun_HappyPath(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"4"}`)
	q2 := queueEntry("q2", "SO-1", `{"items":"A","qty":"6"}`)
	h := newHarness(q1, q2)

	openAfterSubmit := &domain.ReturnsState{Returns: []domain.Return{{
		ID:     "R-1",
		Status: "OPEN",
		LineItems: []domain.ReturnLineItem{{
			FulfillmentID:       "F1",
			FulfillmentLineItem: domain.FulfillmentLineItem{SKU: "A"},
			Quantity:            10,
		}},
	}}}
	h.platform.getReturnFn = func(_ context.Context, _ string, call int) (*domain.ReturnsState, error) {
		if call == 1 {
			return nil, nil
		}
		return openAfterSubmit, nil
	}

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunSummary{RunID: summary.RunID, Entries: 2, Orders: 1, Succeeded: 1}, summary)

	require.Len(t, h.platform.returns, 1)
	assert.Equal(t, []domain.ReturnLineAllocation{{FulfillmentID: "F1", LineItemID: "FLI-A", Quantity: 10}}, h.platform.returns[0].ReturnLineItems)
	assert.Equal(t, "order-SO-1", h.platform.returns[0].OrderSeq)

	require.Len(t, h.platform.refunds, 1)
	refund := h.platform.refunds[0]
	assert.Equal(t, "205", refund.Amount.String())
	require.NotNil(t, refund.ShippingRefund)
	assert.Equal(t, "205", refund.Transactions[0].Amount)

	assert.Equal(t, []string{"R-1"}, h.platform.closed)

	require.Len(t, h.repo.persisted, 1)
	rec := h.repo.persisted[0]
	assert.Equal(t, domain.StageDone, rec.Stage)
	assert.Equal(t, 1, rec.ReturnsClosed)
	for _, e := range []*domain.QueueEntry{q1, q2} {
		require.NotNil(t, e.ProcessedAt)
		assert.Equal(t, testNow, *e.ProcessedAt)
		assert.Nil(t, e.Error)
	}
	require.Len(t, rec.DomainEvents(), 1)
	assert.Equal(t, "returns.order.reconciled", rec.DomainEvents()[0].EventType())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrdersReconciled.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RefundsSubmitted))
}

func TestRun_OrderNotFoundDoesNotStopOtherOrders(t *testing.T) {
	missing := queueEntry("q1", "SO-404", `{"items":"A","qty":"1"}`)
	ok := queueEntry("q2", "SO-2", `{"items":"A","qty":"1"}`)
	h := newHarness(missing, ok)
	h.resolver.getOrderIDFn = func(_ context.Context, son string) (string, bool, error) {
		if son == "SO-404" {
			return "", false, nil
		}
		return "order-" + son, true, nil
	}

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, h.repo.persisted, 2)

	require.NotNil(t, missing.Error)
	assert.Equal(t, "Order not found: SO-404", *missing.Error)
	assert.Nil(t, missing.ProcessedAt)
	assert.NotNil(t, ok.ProcessedAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrdersReconciled.WithLabelValues("error", apperrors.CodeOrderNotFound)))
}

func TestRun_MalformedPayloadFailsWholeOrder(t *testing.T) {
	good := queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`)
	bad := queueEntry("q2", "SO-1", `{"items":"A,B","qty":"1"}`)
	other := queueEntry("q3", "SO-2", `{"items":"A","qty":"1"}`)
	h := newHarness(good, bad, other)

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	for _, e := range []*domain.QueueEntry{good, bad} {
		require.NotNil(t, e.Error, e.ID)
		assert.Contains(t, *e.Error, "malformed queue payload q2")
	}
	assert.NotNil(t, other.ProcessedAt)
	require.Len(t, h.platform.refunds, 1)
	assert.Equal(t, "order-SO-2", h.platform.refunds[0].OrderID)
}

func TestRun_RefundFailureIsAlwaysFatal(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`)
	h := newHarness(q1)
	h.platform.refundOrderFn = func(context.Context, *domain.RefundRequest) error {
		return errors.New("gateway declined")
	}

	_, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, q1.Error)
	assert.Equal(t, "refund_order failed: gateway declined", *q1.Error)
	assert.Nil(t, q1.ProcessedAt)
	assert.Empty(t, h.platform.closed)
	assert.Equal(t, domain.StageRefunding, h.repo.persisted[0].FailedStage)
}

func TestRun_ReturnSubmitPolicy(t *testing.T) {
	tests := []struct {
		name       string
		policy     domain.FailurePolicy
		wantFailed bool
	}{
		{"best effort continues to refund", domain.DefaultFailurePolicy(), false},
		{"strict fails the order", domain.StrictFailurePolicy(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"2"}`)
			h := newHarness(q1)
			h.platform.returnOrderFn = func(context.Context, *domain.ReturnRequest) error {
				return errors.New("422 invalid quantity")
			}

			_, err := h.service(tt.policy).Run(context.Background())

			require.NoError(t, err)
			if tt.wantFailed {
				require.NotNil(t, q1.Error)
				assert.Equal(t, "return_order failed: 422 invalid quantity", *q1.Error)
				assert.Empty(t, h.platform.refunds)
				assert.Equal(t, domain.StageReturning, h.repo.persisted[0].FailedStage)
			} else {
				assert.Nil(t, q1.Error)
				assert.NotNil(t, q1.ProcessedAt)
				assert.Len(t, h.platform.refunds, 1)
				assert.Equal(t, 1, h.platform.getReturnCalls, "no refetch after a failed submit")
			}
			mode := string(tt.policy.ReturnSubmit)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PlatformFailures.WithLabelValues(OpReturnOrder, mode)))
		})
	}
}

func TestRun_ReturnFetchPolicy(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"2"}`)
	h := newHarness(q1)
	h.platform.getReturnFn = func(context.Context, string, int) (*domain.ReturnsState, error) {
		return nil, errors.New("timeout")
	}

	_, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, q1.ProcessedAt)
	assert.Empty(t, h.platform.returns, "allocation is skipped without a returns ledger")
	assert.Len(t, h.platform.refunds, 1)

	q2 := queueEntry("q2", "SO-2", `{"items":"A","qty":"2"}`)
	h = newHarness(q2)
	h.platform.getReturnFn = func(context.Context, string, int) (*domain.ReturnsState, error) {
		return nil, errors.New("timeout")
	}
	policy := domain.DefaultFailurePolicy()
	policy.ReturnFetch = domain.FailureModeStrict

	_, err = h.service(policy).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q2.Error)
	assert.Equal(t, "get_return failed: timeout", *q2.Error)
}

func TestRun_RefreshFailureKeepsLastReturnsState(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"2"}`)
	h := newHarness(q1)
	prior := &domain.ReturnsState{Returns: []domain.Return{{ID: "R-OLD", Status: "OPEN"}}}
	h.platform.getReturnFn = func(_ context.Context, _ string, call int) (*domain.ReturnsState, error) {
		if call == 1 {
			return prior, nil
		}
		return nil, errors.New("timeout")
	}

	_, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Len(t, h.platform.returns, 1)
	assert.Equal(t, []string{"R-OLD"}, h.platform.closed)
	assert.NotNil(t, q1.ProcessedAt)
}

func TestRun_ClosePolicy(t *testing.T) {
	open := &domain.ReturnsState{Returns: []domain.Return{
		{ID: "R-1", Status: "OPEN"},
		{ID: "R-2", Status: domain.ReturnStatusClosed},
		{ID: "R-3", Status: "REQUESTED"},
	}}

	t.Run("best effort closes the rest", func(t *testing.T) {
		q1 := queueEntry("q1", "SO-1", `{"items":"Z","qty":"1"}`)
		h := newHarness(q1)
		h.platform.getReturnFn = func(context.Context, string, int) (*domain.ReturnsState, error) { return open, nil }
		h.platform.closeReturnFn = func(_ context.Context, id string) error {
			if id == "R-1" {
				return errors.New("already closing")
			}
			return nil
		}

		_, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"R-3"}, h.platform.closed)
		assert.NotNil(t, q1.ProcessedAt)
		assert.Equal(t, 1, h.repo.persisted[0].ReturnsClosed)
	})

	t.Run("strict fails on first error", func(t *testing.T) {
		q1 := queueEntry("q1", "SO-1", `{"items":"Z","qty":"1"}`)
		h := newHarness(q1)
		h.platform.getReturnFn = func(context.Context, string, int) (*domain.ReturnsState, error) { return open, nil }
		h.platform.closeReturnFn = func(_ context.Context, id string) error {
			if id == "R-1" {
				return errors.New("already closing")
			}
			return nil
		}

		_, err := h.service(domain.StrictFailurePolicy()).Run(context.Background())

		require.NoError(t, err)
		assert.Empty(t, h.platform.closed)
		require.NotNil(t, q1.Error)
		assert.Equal(t, domain.StageClosing, h.repo.persisted[0].FailedStage)
	})

	t.Run("tolerated failure is logged with its operation", func(t *testing.T) {
		q1 := queueEntry("q1", "SO-1", `{"items":"Z","qty":"1"}`)
		h := newHarness(q1)
		h.platform.getReturnFn = func(context.Context, string, int) (*domain.ReturnsState, error) { return open, nil }
		h.platform.closeReturnFn = func(_ context.Context, id string) error {
			if id == "R-1" {
				return errors.New("already closing")
			}
			return nil
		}
		buf := &bytes.Buffer{}
		logCfg := logging.DefaultConfig("refund-processor")
		logCfg.Output = buf
		svc := NewReconciliationService(h.repo, h.resolver, h.platform, logging.New(logCfg), Options{
			Policy:  domain.DefaultFailurePolicy(),
			Metrics: h.metrics,
			Now:     func() time.Time { return testNow },
		})

		_, err := svc.Run(context.Background())
		require.NoError(t, err)

		var warned map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &entry))
			if entry["msg"] == "Platform call failed, continuing" {
				warned = entry
			}
		}
		require.NotNil(t, warned)
		assert.Equal(t, OpCloseReturn, warned["operation"])
		assert.Equal(t, string(domain.CategoryReturnClose), warned["category"])
		assert.Equal(t, "SO-1", warned["salesOrderNumber"])
	})
}

func TestRun_RefundSkippedForIneligibleStatus(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`)
	h := newHarness(q1)
	h.resolver.getOrderDetailsFn = func(_ context.Context, id string) (*domain.Order, error) {
		o := paidOrder(id)
		o.FinancialStatus = domain.FinancialStatusRefunded
		return o, nil
	}

	_, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, h.platform.refunds)
	assert.Len(t, h.platform.returns, 1)
	assert.NotNil(t, q1.ProcessedAt)
}

func TestRun_FlushFailureDoesNotStopRun(t *testing.T) {
	h := newHarness(
		queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`),
		queueEntry("q2", "SO-2", `{"items":"A","qty":"1"}`),
	)
	h.repo.persistFn = func(_ context.Context, rec *domain.Reconciliation) error {
		if rec.Request.SalesOrderNumber == "SO-1" {
			return errors.New("write conflict")
		}
		return nil
	}

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Orders)
	assert.Equal(t, 1, summary.Unflushed)
	assert.Len(t, h.repo.persisted, 2)
}

func TestReconcileOrder_PanicIsRecordedAndFlushed(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`)
	h := newHarness(q1)
	h.resolver.getOrderDetailsFn = func(context.Context, string) (*domain.Order, error) {
		panic("nil map")
	}
	svc := h.service(domain.DefaultFailurePolicy())

	req := domain.MergeQueue([]*domain.QueueEntry{q1})[0]
	rec, err := svc.ReconcileOrder(context.Background(), req, []*domain.QueueEntry{q1})

	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, rec.Stage)
	require.NotNil(t, q1.Error)
	assert.Contains(t, *q1.Error, "panic while reconciling: nil map")
	assert.Len(t, h.repo.persisted, 1)
}

func TestRun_CancelledBetweenOrders(t *testing.T) {
	h := newHarness(
		queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`),
		queueEntry("q2", "SO-2", `{"items":"A","qty":"1"}`),
	)
	ctx, cancel := context.WithCancel(context.Background())
	h.platform.refundOrderFn = func(context.Context, *domain.RefundRequest) error {
		cancel()
		return nil
	}

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Orders)
	require.Len(t, h.repo.persisted, 1)
	assert.Equal(t, domain.StageDone, h.repo.persisted[0].Stage)
}

func TestRun_CancelDuringOrderFinishesCurrentOrder(t *testing.T) {
	q1 := queueEntry("q1", "SO-1", `{"items":"A","qty":"1"}`)
	q2 := queueEntry("q2", "SO-2", `{"items":"A","qty":"1"}`)
	h := newHarness(q1, q2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Platform calls fail on a done context, the way the circuit breaker does.
	h.platform.getReturnFn = func(ctx context.Context, _ string, call int) (*domain.ReturnsState, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if call == 1 {
			return nil, nil
		}
		return &domain.ReturnsState{Returns: []domain.Return{{
			ID:     "R-1",
			Status: "OPEN",
			LineItems: []domain.ReturnLineItem{{
				FulfillmentID:       "F1",
				FulfillmentLineItem: domain.FulfillmentLineItem{SKU: "A"},
				Quantity:            1,
			}},
		}}}, nil
	}
	h.platform.returnOrderFn = func(context.Context, *domain.ReturnRequest) error {
		cancel()
		return nil
	}
	h.platform.refundOrderFn = func(ctx context.Context, _ *domain.RefundRequest) error {
		return ctx.Err()
	}
	h.platform.closeReturnFn = func(ctx context.Context, _ string) error {
		return ctx.Err()
	}

	summary, err := h.service(domain.DefaultFailurePolicy()).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Orders)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, h.platform.refunds, 1)
	assert.Equal(t, []string{"R-1"}, h.platform.closed)

	require.Len(t, h.repo.persisted, 1)
	assert.Equal(t, domain.StageDone, h.repo.persisted[0].Stage)
	require.NotNil(t, q1.ProcessedAt)
	assert.Nil(t, q1.Error)
	assert.Nil(t, q2.ProcessedAt)
	assert.Nil(t, q2.Error)
}
