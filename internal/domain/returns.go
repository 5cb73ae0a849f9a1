package domain

// ReturnStatusClosed is the platform status of a resolved return
const ReturnStatusClosed = "CLOSED"

// ReturnsState is every return recorded against an order
type ReturnsState struct {
	Returns []Return `json:"returns" validate:"dive"`
}

// Return is one return record
type Return struct {
	ID        string           `json:"id" validate:"required"`
	Status    string           `json:"status"`
	LineItems []ReturnLineItem `json:"returnLineItems" validate:"dive"`
}

// IsClosed reports whether the return is resolved
func (r Return) IsClosed() bool {
	return r.Status == ReturnStatusClosed
}

// ReturnLineItem is a returned quantity of one fulfillment line item
type ReturnLineItem struct {
	FulfillmentID       string              `json:"fulfillmentId"`
	FulfillmentLineItem FulfillmentLineItem `json:"fulfillmentLineItem"`
	Quantity            int                 `json:"quantity" validate:"gte=0"`
}

// ReturnedQuantity sums quantities over all return line items. A nil state
// returns 0.
func (s *ReturnsState) ReturnedQuantity() int {
	if s == nil {
		return 0
	}
	total := 0
	for _, r := range s.Returns {
		for _, li := range r.LineItems {
			total += li.Quantity
		}
	}
	return total
}

// OpenReturns lists returns whose status is not CLOSED
func (s *ReturnsState) OpenReturns() []Return {
	if s == nil {
		return nil
	}
	var open []Return
	for _, r := range s.Returns {
		if !r.IsClosed() {
			open = append(open, r)
		}
	}
	return open
}
