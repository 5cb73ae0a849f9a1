package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wms-platform/returns-service/pkg/tracing"
)

// EventFactory creates CloudEvents for reconciliation outcomes
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent creates a new event and stamps the active trace context on it
func (f *EventFactory) CreateEvent(ctx context.Context, eventType, subject string, data interface{}) *ReturnsCloudEvent {
	event := &ReturnsCloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	carrier := propagation.MapCarrier{}
	tracing.InjectTraceContext(ctx, carrier)
	event.TraceParent = carrier.Get("traceparent")
	event.TraceState = carrier.Get("tracestate")

	return event
}

// CreateOrderReconciledEvent creates a ReturnOrderReconciled event
func (f *EventFactory) CreateOrderReconciledEvent(ctx context.Context, correlationID string, data OrderReconciledData) *ReturnsCloudEvent {
	event := f.CreateEvent(ctx, ReturnOrderReconciled, "sales-order/"+data.SalesOrderNumber, data)
	event.CorrelationID = correlationID
	event.OrderID = data.OrderID
	event.SalesOrderNumber = data.SalesOrderNumber
	return event
}

// CreateOrderFailedEvent creates a ReturnOrderFailed event
func (f *EventFactory) CreateOrderFailedEvent(ctx context.Context, correlationID string, data OrderFailedData) *ReturnsCloudEvent {
	event := f.CreateEvent(ctx, ReturnOrderFailed, "sales-order/"+data.SalesOrderNumber, data)
	event.CorrelationID = correlationID
	event.OrderID = data.OrderID
	event.SalesOrderNumber = data.SalesOrderNumber
	return event
}
