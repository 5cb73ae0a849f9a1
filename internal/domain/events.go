package domain

import "time"

// DomainEvent is the base interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// OrderReconciledEvent is emitted when a sales order's returns were processed
type OrderReconciledEvent struct {
	SalesOrderNumber string      `json:"salesOrderNumber"`
	OrderID          string      `json:"orderId"`
	QueueIDs         []string    `json:"queueIds"`
	ReturnedQuantity int         `json:"returnedQuantity"`
	ReturnSubmitted  bool        `json:"returnSubmitted"`
	RefundSubmitted  bool        `json:"refundSubmitted"`
	RefundAmount     string      `json:"refundAmount,omitempty"`
	ShippingRefunded bool        `json:"shippingRefunded"`
	ReturnsClosed    int         `json:"returnsClosed"`
	Shortfalls       []Shortfall `json:"shortfalls,omitempty"`
	ReconciledAt     time.Time   `json:"reconciledAt"`
}

func (e *OrderReconciledEvent) EventType() string     { return "returns.order.reconciled" }
func (e *OrderReconciledEvent) OccurredAt() time.Time { return e.ReconciledAt }

// OrderReconciliationFailedEvent is emitted when a sales order could not be processed
type OrderReconciliationFailedEvent struct {
	SalesOrderNumber string    `json:"salesOrderNumber"`
	OrderID          string    `json:"orderId,omitempty"`
	QueueIDs         []string  `json:"queueIds"`
	Stage            Stage     `json:"stage"`
	ErrorCode        string    `json:"errorCode"`
	Reason           string    `json:"reason"`
	FailedAt         time.Time `json:"failedAt"`
}

func (e *OrderReconciliationFailedEvent) EventType() string     { return "returns.order.failed" }
func (e *OrderReconciliationFailedEvent) OccurredAt() time.Time { return e.FailedAt }
