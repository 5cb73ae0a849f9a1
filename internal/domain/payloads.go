package domain

import (
	"github.com/shopspring/decimal"
)

// ReturnRequest is submitted to the platform to record a return
type ReturnRequest struct {
	NotifyCustomer  bool                   `json:"notify_customer"`
	OrderSeq        string                 `json:"order_seq"`
	ProcessedAt     string                 `json:"processed_at"`
	ReturnLineItems []ReturnLineAllocation `json:"return_line_items"`
}

// TotalQuantity sums allocated quantities
func (r *ReturnRequest) TotalQuantity() int {
	total := 0
	for _, a := range r.ReturnLineItems {
		total += a.Quantity
	}
	return total
}

// ReturnLineAllocation assigns a quantity to a fulfillment line item
type ReturnLineAllocation struct {
	FulfillmentID string `json:"fulfillment_id"`
	LineItemID    string `json:"line_item_id"`
	Quantity      int    `json:"quantity"`
}

// Refund line item constants
const (
	RestockTypeNoRestock  = "no-restock"
	RefundTypeReturned    = "Returned"
	RefundNote            = "Refund"
	TransactionKindRefund = "refund"
)

// RefundRequest is submitted to the platform to refund money
type RefundRequest struct {
	OrderID         string           `json:"order_id"`
	Currency        string           `json:"currency"`
	Note            string           `json:"note"`
	Notify          bool             `json:"notify"`
	RefundLineItems []RefundLineItem `json:"refund_line_items"`
	Transactions    []Transaction    `json:"transactions"`
	ShippingRefund  *ShippingRefund  `json:"shipping_refund,omitempty"`

	// Amount is the computed total, also carried by every transaction
	Amount decimal.Decimal `json:"-"`
}

// RefundLineItem refunds a quantity of an order line item
type RefundLineItem struct {
	LineItemID  string `json:"line_item_id"`
	LocationID  string `json:"location_id"`
	Quantity    int    `json:"quantity"`
	RestockType string `json:"restock_type"`
	Type        string `json:"type"`
}

// Transaction is a refund against one paid payment detail
type Transaction struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Gateway  string `json:"gateway"`
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Type     bool   `json:"type"`
}

// ShippingRefund refunds the order's shipping charge in full
type ShippingRefund struct {
	FullRefund bool            `json:"full_refund"`
	Amount     decimal.Decimal `json:"amount"`
}
