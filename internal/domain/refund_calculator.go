package domain

import (
	"github.com/shopspring/decimal"
)

// RefundCalculator derives the refund for the returned quantities of an order
type RefundCalculator struct{}

// NewRefundCalculator creates a RefundCalculator
func NewRefundCalculator() *RefundCalculator {
	return &RefundCalculator{}
}

// Calculate builds the refund request, or returns nil when the order's
// financial status does not allow a refund. returns may be nil.
//
// Shipping is refunded in full once every shipped unit has been returned.
// Each paid payment detail gets a transaction carrying the whole amount.
func (c *RefundCalculator) Calculate(order *Order, request *MergedRequest, returns *ReturnsState) *RefundRequest {
	if !order.FinancialStatus.IsRefundable() {
		return nil
	}

	amount := decimal.Zero
	refundLineItems := make([]RefundLineItem, 0, len(order.LineItems))

	for _, li := range order.LineItems {
		if !request.Has(li.SKU) {
			continue
		}
		qty := request.TotalQuantity(li.SKU)
		refundLineItems = append(refundLineItems, RefundLineItem{
			LineItemID:  li.ID,
			LocationID:  li.LocationID,
			Quantity:    qty,
			RestockType: RestockTypeNoRestock,
			Type:        RefundTypeReturned,
		})
		amount = amount.Add(li.Price.Sub(li.Discount()).Mul(decimal.NewFromInt(int64(qty))))
	}

	var shipping *ShippingRefund
	if ShippingRefundable(order, returns) {
		amount = amount.Add(order.TotalShipping)
		shipping = &ShippingRefund{FullRefund: true, Amount: order.TotalShipping}
	}

	transactions := make([]Transaction, 0, len(order.PaymentDetails))
	for _, pd := range order.PaymentDetails {
		if pd.PayStatus != PayStatusPaid {
			continue
		}
		transactions = append(transactions, Transaction{
			Amount:   amount.String(),
			Currency: "",
			Gateway:  pd.PayChannel,
			ID:       pd.PaySeq,
			Kind:     TransactionKindRefund,
			Type:     true,
		})
	}

	return &RefundRequest{
		OrderID:         order.ID,
		Currency:        "",
		Note:            RefundNote,
		Notify:          true,
		RefundLineItems: refundLineItems,
		Transactions:    transactions,
		ShippingRefund:  shipping,
		Amount:          amount,
	}
}

// ShippingRefundable reports whether the order charged shipping and every
// shipped unit has been returned
func ShippingRefundable(order *Order, returns *ReturnsState) bool {
	return order.TotalShipping.IsPositive() && order.ShippedQuantity() == returns.ReturnedQuantity()
}
