package domain

import (
	"github.com/shopspring/decimal"
)

// FinancialStatus is the order-level payment state
type FinancialStatus string

const (
	FinancialStatusPending           FinancialStatus = "pending"
	FinancialStatusPaid              FinancialStatus = "paid"
	FinancialStatusPartiallyPaid     FinancialStatus = "partially_paid"
	FinancialStatusPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialStatusRefunded          FinancialStatus = "refunded"
	FinancialStatusVoided            FinancialStatus = "voided"
)

// IsRefundable reports whether a refund may be issued in this state
func (s FinancialStatus) IsRefundable() bool {
	switch s {
	case FinancialStatusPaid, FinancialStatusPartiallyPaid, FinancialStatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// PayStatusPaid marks a payment detail that can be refunded
const PayStatusPaid = "paid"

// Order is the read-only view of a platform order
type Order struct {
	ID              string          `json:"id" validate:"required"`
	FinancialStatus FinancialStatus `json:"financialStatus"`
	LineItems       []LineItem      `json:"lineItems" validate:"dive"`
	Fulfillments    []Fulfillment   `json:"fulfillments" validate:"dive"`
	TotalShipping   decimal.Decimal `json:"totalShipping"`
	PaymentDetails  []PaymentDetail `json:"paymentDetails"`
}

// LineItem is an ordered SKU with its price and discounts
type LineItem struct {
	ID                  string               `json:"id" validate:"required"`
	SKU                 string               `json:"sku"`
	LocationID          string               `json:"locationId"`
	Price               decimal.Decimal      `json:"price"`
	DiscountAllocations []DiscountAllocation `json:"discountAllocations"`
}

// Discount sums the line item's discount allocations
func (li LineItem) Discount() decimal.Decimal {
	total := decimal.Zero
	for _, d := range li.DiscountAllocations {
		total = total.Add(d.Amount)
	}
	return total
}

// DiscountAllocation is a discount applied to a line item
type DiscountAllocation struct {
	Amount decimal.Decimal `json:"amount"`
}

// Fulfillment is one shipment
type Fulfillment struct {
	ID        string                `json:"id" validate:"required"`
	LineItems []FulfillmentLineItem `json:"lineItems" validate:"dive"`
}

// FulfillmentLineItem is a shipped quantity of one order line item
type FulfillmentLineItem struct {
	ID                string `json:"id" validate:"required"`
	SKU               string `json:"sku"`
	FulfilledQuantity int    `json:"fulfilledQuantity" validate:"gte=0"`
}

// PaymentDetail is one payment captured against the order
type PaymentDetail struct {
	PayChannel string `json:"payChannel"`
	PaySeq     string `json:"paySeq"`
	PayStatus  string `json:"payStatus"`
}

// ShippedQuantity sums fulfilled quantities over every fulfillment
func (o *Order) ShippedQuantity() int {
	total := 0
	for _, f := range o.Fulfillments {
		for _, li := range f.LineItems {
			total += li.FulfilledQuantity
		}
	}
	return total
}
