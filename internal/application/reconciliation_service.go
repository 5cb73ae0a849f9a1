package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/returns-service/internal/domain"
	apperrors "github.com/wms-platform/returns-service/pkg/errors"
	"github.com/wms-platform/returns-service/pkg/logging"
	"github.com/wms-platform/returns-service/pkg/metrics"
	"github.com/wms-platform/returns-service/pkg/tracing"
)

const flushTimeout = 30 * time.Second

// Platform operation names used in errors, logs and metrics
const (
	OpGetOrderID      = "get_order_id"
	OpGetOrderDetails = "get_order_details"
	OpGetReturn       = "get_return"
	OpGetFulfillments = "get_fulfillments"
	OpReturnOrder     = "return_order"
	OpRefundOrder     = "refund_order"
	OpCloseReturn     = "close_return"
)

// Options tunes a ReconciliationService
type Options struct {
	Policy     domain.FailurePolicy
	BatchLimit int
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
	Now        func() time.Time
}

// RunSummary counts the outcome of one run
type RunSummary struct {
	RunID     string
	Entries   int
	Orders    int
	Succeeded int
	Failed    int
	Unflushed int
}

// ReconciliationService drives queued returns through the order platform
type ReconciliationService struct {
	queueRepo  domain.QueueRepository
	resolver   SalesOrderResolver
	platform   OrderPlatformClient
	allocator  *domain.ReturnAllocator
	calculator *domain.RefundCalculator
	policy     domain.FailurePolicy
	batchLimit int
	logger     *logging.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	queueRepo domain.QueueRepository,
	resolver SalesOrderResolver,
	platform OrderPlatformClient,
	logger *logging.Logger,
	opts Options,
) *ReconciliationService {
	if opts.Policy == (domain.FailurePolicy{}) {
		opts.Policy = domain.DefaultFailurePolicy()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("refund-processor")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ReconciliationService{
		queueRepo:  queueRepo,
		resolver:   resolver,
		platform:   platform,
		allocator:  domain.NewReturnAllocatorWithClock(opts.Now),
		calculator: domain.NewRefundCalculator(),
		policy:     opts.Policy,
		batchLimit: opts.BatchLimit,
		logger:     logger.WithComponent("reconciliation"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		now:        opts.Now,
	}
}

// Run reconciles every unprocessed queue entry. Only a failure to read the queue
// is returned; per-order failures are recorded on the entries. Cancelling ctx
// stops the run between orders.
func (s *ReconciliationService) Run(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.New().String()}
	ctx = logging.ContextWithCorrelationID(ctx, summary.RunID)
	logger := s.logger.WithContext(ctx)

	entries, err := s.queueRepo.FindUnprocessedReturns(ctx, s.batchLimit)
	if err != nil {
		return summary, fmt.Errorf("failed to load unprocessed returns: %w", err)
	}
	summary.Entries = len(entries)
	if len(entries) == 0 {
		logger.Info("No unprocessed returns")
		return summary, nil
	}

	byID := make(map[string]*domain.QueueEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	requests := domain.MergeQueue(entries)
	logger.Info("Processing returns", "entries", len(entries), "orders", len(requests))

	for _, req := range requests {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled, remaining orders left for the next run",
				"remaining", len(requests)-summary.Orders)
			break
		}

		orderEntries := make([]*domain.QueueEntry, 0, len(req.QueueIDs))
		for _, id := range req.QueueIDs {
			orderEntries = append(orderEntries, byID[id])
		}

		// A started order runs to completion; cancellation is honoured between orders.
		rec, flushErr := s.ReconcileOrder(context.WithoutCancel(ctx), req, orderEntries)
		summary.Orders++
		if rec.Stage == domain.StageDone {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		if flushErr != nil {
			summary.Unflushed++
		}
	}

	logger.Info("Run finished",
		"orders", summary.Orders,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"unflushed", summary.Unflushed,
	)
	return summary, nil
}

// ReconcileOrder processes one merged sales order. The queue entries are
// persisted on every exit path, panics included. The returned error reports a
// failed flush only.
func (s *ReconciliationService) ReconcileOrder(ctx context.Context, req *domain.MergedRequest, entries []*domain.QueueEntry) (rec *domain.Reconciliation, flushErr error) {
	start := time.Now()
	ctx = logging.ContextWithSalesOrderNumber(ctx, req.SalesOrderNumber)
	ctx, span := s.tracer.Start(ctx, "returns.reconcile_order",
		trace.WithAttributes(
			attribute.String("returns.sales_order_number", req.SalesOrderNumber),
			attribute.Int("returns.queue_entries", len(entries)),
		),
	)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		ctx = logging.ContextWithTraceID(ctx, traceID)
	}
	logger := s.logger.WithContext(ctx).WithFields(map[string]any{
		"queueIds": req.QueueIDs,
		"skus":     req.SKUs,
	})

	rec = domain.NewReconciliation(req, entries)

	defer func() {
		if r := recover(); r != nil {
			rec.Fail(apperrors.ErrInternal(fmt.Sprintf("panic while reconciling: %v", r)), s.now())
		}

		flushErr = s.flush(ctx, rec)
		s.recordOutcome(ctx, rec, time.Since(start))
		tracing.EndSpan(span, rec.Err)
	}()

	if err := s.process(ctx, rec); err != nil {
		logger.WithError(err).Error("Order reconciliation failed", "stage", rec.Stage)
		rec.Fail(err, s.now())
		return rec, nil
	}

	rec.Complete(s.now())
	return rec, nil
}

func (s *ReconciliationService) process(ctx context.Context, rec *domain.Reconciliation) error {
	req := rec.Request
	if req.Err != nil {
		return req.Err
	}

	// Fetching
	orderID, found, err := s.resolver.GetOrderID(ctx, req.SalesOrderNumber)
	if err != nil {
		return platformError(OpGetOrderID, err)
	}
	if !found || orderID == "" {
		return apperrors.ErrOrderNotFound(req.SalesOrderNumber)
	}
	rec.OrderID = orderID

	order, err := s.resolver.GetOrderDetails(ctx, orderID)
	if err != nil {
		return platformError(OpGetOrderDetails, err)
	}
	if order == nil {
		return apperrors.ErrOrderNotFound(req.SalesOrderNumber)
	}

	// Returning
	if err := rec.Advance(domain.StageReturning); err != nil {
		return err
	}
	returns, err := s.handleReturn(ctx, rec, order)
	if err != nil {
		return err
	}

	// Refunding
	if err := rec.Advance(domain.StageRefunding); err != nil {
		return err
	}
	if err := s.handleRefund(ctx, rec, order, returns); err != nil {
		return err
	}

	// Closing
	if err := rec.Advance(domain.StageClosing); err != nil {
		return err
	}
	return s.closeReturns(ctx, rec, returns)
}

// handleReturn allocates and submits the return. It yields the latest returns
// state successfully read, which may be nil.
func (s *ReconciliationService) handleReturn(ctx context.Context, rec *domain.Reconciliation, order *domain.Order) (*domain.ReturnsState, error) {
	returns, err := s.platform.GetReturn(ctx, order.ID)
	if err != nil {
		return nil, s.tolerate(ctx, domain.CategoryReturnFetch, OpGetReturn, err)
	}

	fulfillments, err := s.platform.GetFulfillments(ctx, order.ID)
	if err != nil {
		return returns, s.tolerate(ctx, domain.CategoryReturnSubmit, OpGetFulfillments, err)
	}

	request, report := s.allocator.Allocate(order, rec.Request, returns, fulfillments)
	rec.Shortfalls = report.Shortfalls
	for _, sf := range report.Shortfalls {
		s.logger.Event(ctx, "returns.allocation.exhausted", map[string]any{
			"sku":       sf.SKU,
			"requested": sf.Requested,
			"dropped":   sf.Dropped,
		})
		if s.metrics != nil {
			s.metrics.RecordUnallocated(sf.SKU, sf.Dropped)
		}
	}
	if request == nil {
		return returns, nil
	}

	if err := s.platform.ReturnOrder(ctx, request); err != nil {
		return returns, s.tolerate(ctx, domain.CategoryReturnSubmit, OpReturnOrder, err)
	}
	rec.ReturnSubmitted = true
	rec.Returned = request.TotalQuantity()
	if s.metrics != nil {
		s.metrics.RecordReturnSubmitted()
	}
	s.logger.WithContext(ctx).WithOperation(OpReturnOrder).Info("Return submitted",
		"orderId", order.ID,
		"lineItems", len(request.ReturnLineItems),
		"quantity", rec.Returned,
	)

	refreshed, err := s.platform.GetReturn(ctx, order.ID)
	if err != nil {
		return returns, s.tolerate(ctx, domain.CategoryReturnFetch, OpGetReturn, err)
	}
	return refreshed, nil
}

func (s *ReconciliationService) handleRefund(ctx context.Context, rec *domain.Reconciliation, order *domain.Order, returns *domain.ReturnsState) error {
	refund := s.calculator.Calculate(order, rec.Request, returns)
	if refund == nil {
		s.logger.WithContext(ctx).WithOperation(OpRefundOrder).Info("Refund skipped", "financialStatus", order.FinancialStatus)
		return nil
	}

	if err := s.platform.RefundOrder(ctx, refund); err != nil {
		if s.metrics != nil {
			s.metrics.RecordPlatformFailure(OpRefundOrder, string(domain.FailureModeStrict))
		}
		return platformError(OpRefundOrder, err)
	}
	rec.Refund = refund

	amount, _ := refund.Amount.Float64()
	if s.metrics != nil {
		s.metrics.RecordRefundSubmitted(amount)
	}
	s.logger.WithContext(ctx).WithOperation(OpRefundOrder).Info("Refund submitted",
		"orderId", order.ID,
		"amount", refund.Amount.String(),
		"transactions", len(refund.Transactions),
		"shippingRefunded", refund.ShippingRefund != nil,
	)
	return nil
}

func (s *ReconciliationService) closeReturns(ctx context.Context, rec *domain.Reconciliation, returns *domain.ReturnsState) error {
	for _, r := range returns.OpenReturns() {
		err := s.platform.CloseReturn(ctx, r.ID)
		if s.metrics != nil {
			s.metrics.RecordReturnClosed(err == nil)
		}
		if err != nil {
			if err := s.tolerate(ctx, domain.CategoryReturnClose, OpCloseReturn, err); err != nil {
				return err
			}
			continue
		}
		rec.ReturnsClosed++
	}
	return nil
}

// tolerate applies the failure policy of category to err. It returns nil when
// the failure is swallowed.
func (s *ReconciliationService) tolerate(ctx context.Context, category domain.FailureCategory, operation string, err error) error {
	mode := s.policy.ModeFor(category)
	if s.metrics != nil {
		s.metrics.RecordPlatformFailure(operation, string(mode))
	}
	if mode.IsStrict() {
		return platformError(operation, err)
	}

	s.logger.WithContext(ctx).WithOperation(operation).WithError(err).Warn("Platform call failed, continuing",
		"category", string(category),
	)
	return nil
}

func (s *ReconciliationService) flush(ctx context.Context, rec *domain.Reconciliation) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	if err := s.queueRepo.Persist(flushCtx, rec); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to persist queue entries",
			"queueIds", rec.Request.QueueIDs,
			"stage", rec.Stage,
		)
		return err
	}
	return nil
}

func (s *ReconciliationService) recordOutcome(ctx context.Context, rec *domain.Reconciliation, duration time.Duration) {
	success := rec.Stage == domain.StageDone
	code := apperrors.CodeOf(rec.Err)
	if s.metrics != nil {
		s.metrics.RecordOrderReconciled(success, code, len(rec.Entries), duration)
	}

	data := map[string]any{
		"orderId":  rec.OrderID,
		"queueIds": rec.Request.QueueIDs,
	}
	eventType := "returns.order.reconciled"
	if !success {
		eventType = "returns.order.failed"
		data["stage"] = string(rec.FailedStage)
		data["errorCode"] = code
	}
	s.logger.Event(ctx, eventType, data)
	s.logger.Performance(ctx, "reconcile_order", duration, success, nil)
}

// platformError classifies a failed platform call unless the adapter already did
func platformError(operation string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.ErrPlatformRequest(operation, err)
}
