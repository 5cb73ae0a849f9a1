package domain

import (
	"time"
)

// processedAtLayout always writes a numeric offset, +00:00 for UTC
const processedAtLayout = "2006-01-02T15:04:05-07:00"

// usedLedger tracks quantity already returned per fulfillment and SKU
type usedLedger map[string]map[string]int

func (l usedLedger) get(fulfillmentID, sku string) int {
	return l[fulfillmentID][sku]
}

func (l usedLedger) set(fulfillmentID, sku string, qty int) {
	bySKU, ok := l[fulfillmentID]
	if !ok {
		bySKU = make(map[string]int)
		l[fulfillmentID] = bySKU
	}
	bySKU[sku] = qty
}

func newUsedLedger(prior *ReturnsState) usedLedger {
	used := make(usedLedger)
	if prior == nil {
		return used
	}
	for _, r := range prior.Returns {
		for _, li := range r.LineItems {
			used.set(li.FulfillmentID, li.FulfillmentLineItem.SKU, li.Quantity)
		}
	}
	return used
}

type allocationKey struct {
	fulfillmentID string
	lineItemID    string
}

// allocations is an insertion-ordered list with an index for accumulation
type allocations struct {
	items []ReturnLineAllocation
	index map[allocationKey]int
}

func (a *allocations) add(fulfillmentID, lineItemID string, qty int) {
	key := allocationKey{fulfillmentID, lineItemID}
	if i, ok := a.index[key]; ok {
		a.items[i].Quantity += qty
		return
	}
	a.index[key] = len(a.items)
	a.items = append(a.items, ReturnLineAllocation{
		FulfillmentID: fulfillmentID,
		LineItemID:    lineItemID,
		Quantity:      qty,
	})
}

// Shortfall is requested quantity no fulfillment could absorb
type Shortfall struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Dropped   int    `json:"dropped"`
}

// AllocationReport describes what an allocation pass did not place
type AllocationReport struct {
	Shortfalls []Shortfall
}

// Exhausted reports whether any requested quantity was dropped
func (r AllocationReport) Exhausted() bool {
	return len(r.Shortfalls) > 0
}

// ReturnAllocator matches requested return quantities to fulfillment line items
type ReturnAllocator struct {
	now func() time.Time
}

// NewReturnAllocator creates an allocator stamping requests with the wall clock
func NewReturnAllocator() *ReturnAllocator {
	return &ReturnAllocator{now: time.Now}
}

// NewReturnAllocatorWithClock creates an allocator with a fixed clock
func NewReturnAllocatorWithClock(now func() time.Time) *ReturnAllocator {
	return &ReturnAllocator{now: now}
}

// Allocate assigns each requested quantity to fulfillment line items. SKUs are
// visited in request order, quantities in arrival order and fulfillments in
// platform order. Within a fulfillment an untouched line item whose fulfilled
// quantity equals the remaining request wins outright; otherwise free quantity
// is consumed line item by line item, spilling into later fulfillments.
// Quantity that cannot be placed is dropped and listed in the report.
// A nil request means there is nothing to submit.
func (a *ReturnAllocator) Allocate(order *Order, request *MergedRequest, prior *ReturnsState, fulfillments []Fulfillment) (*ReturnRequest, AllocationReport) {
	used := newUsedLedger(prior)
	result := &allocations{index: make(map[allocationKey]int)}
	var report AllocationReport

	for _, sku := range request.SKUs {
		for _, requested := range request.LineItems[sku] {
			if requested <= 0 {
				continue
			}
			remaining := allocateQuantity(sku, requested, fulfillments, used, result)
			if remaining > 0 {
				report.Shortfalls = append(report.Shortfalls, Shortfall{
					SKU:       sku,
					Requested: requested,
					Dropped:   remaining,
				})
			}
		}
	}

	if len(result.items) == 0 {
		return nil, report
	}

	return &ReturnRequest{
		NotifyCustomer:  false,
		OrderSeq:        order.ID,
		ProcessedAt:     a.now().Format(processedAtLayout),
		ReturnLineItems: result.items,
	}, report
}

// allocateQuantity places qty units of sku and returns what is left over
func allocateQuantity(sku string, qty int, fulfillments []Fulfillment, used usedLedger, result *allocations) int {
	for _, f := range fulfillments {
		if qty == 0 {
			break
		}

		if exactMatch(sku, qty, f, used, result) {
			return 0
		}

		for _, li := range f.LineItems {
			if li.SKU != sku {
				continue
			}
			usedQty := used.get(f.ID, sku)
			if usedQty >= li.FulfilledQuantity {
				continue
			}
			take := min(qty, li.FulfilledQuantity-usedQty)
			result.add(f.ID, li.ID, take)
			used.set(f.ID, sku, usedQty+take)
			qty -= take
			if qty == 0 {
				break
			}
		}
	}
	return qty
}

func exactMatch(sku string, qty int, f Fulfillment, used usedLedger, result *allocations) bool {
	for _, li := range f.LineItems {
		if li.SKU != sku {
			continue
		}
		if used.get(f.ID, sku) > 0 || li.FulfilledQuantity != qty {
			continue
		}
		result.add(f.ID, li.ID, qty)
		used.set(f.ID, sku, qty)
		return true
	}
	return false
}
