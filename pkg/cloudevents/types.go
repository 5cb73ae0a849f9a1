package cloudevents

import (
	"time"
)

// Event types emitted by the refund processor
const (
	ReturnOrderReconciled = "returns.order.reconciled"
	ReturnOrderFailed     = "returns.order.failed"
)

// SourceRefundProcessor is the CloudEvents source of this job
const SourceRefundProcessor = "/returns/refund-processor"

// Extension attribute names carried as Kafka headers
const (
	ExtCorrelationID    = "returnscorrelationid"
	ExtOrderID          = "returnsorderid"
	ExtSalesOrderNumber = "returnssalesordernumber"
)

// ReturnsCloudEvent is a CloudEvents v1.0 envelope
type ReturnsCloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	CorrelationID    string `json:"returnscorrelationid,omitempty"`
	OrderID          string `json:"returnsorderid,omitempty"`
	SalesOrderNumber string `json:"returnssalesordernumber,omitempty"`

	// W3C trace context
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}

// OrderReconciledData is the payload of ReturnOrderReconciled
type OrderReconciledData struct {
	SalesOrderNumber string   `json:"salesOrderNumber"`
	OrderID          string   `json:"orderId"`
	QueueIDs         []string `json:"queueIds"`
	ReturnedQuantity int      `json:"returnedQuantity"`
	ReturnSubmitted  bool     `json:"returnSubmitted"`
	RefundSubmitted  bool     `json:"refundSubmitted"`
	RefundAmount     string   `json:"refundAmount,omitempty"`
	ShippingRefunded bool     `json:"shippingRefunded"`
	ReturnsClosed    int      `json:"returnsClosed"`
	UnallocatedSKUs  []string `json:"unallocatedSkus,omitempty"`
}

// OrderFailedData is the payload of ReturnOrderFailed
type OrderFailedData struct {
	SalesOrderNumber string   `json:"salesOrderNumber"`
	OrderID          string   `json:"orderId,omitempty"`
	QueueIDs         []string `json:"queueIds"`
	Stage            string   `json:"stage"`
	ErrorCode        string   `json:"errorCode"`
	Error            string   `json:"error"`
}
