package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/wms-platform/returns-service/pkg/errors"
)

type queuePayload struct {
	Items *string `json:"items"`
	Qty   *string `json:"qty"`
}

// ReturnedItem is one (SKU, quantity) pair decoded from a queue payload
type ReturnedItem struct {
	SKU      string
	Quantity int
}

// ParsePayload decodes the parallel comma-separated items/qty lists of an entry
func ParsePayload(entry *QueueEntry) ([]ReturnedItem, error) {
	var p queuePayload
	if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
		return nil, apperrors.ErrMalformedPayload(entry.ID, fmt.Sprintf("invalid JSON: %v", err))
	}
	if p.Items == nil || p.Qty == nil {
		return nil, apperrors.ErrMalformedPayload(entry.ID, "items and qty are required")
	}

	skus := strings.Split(*p.Items, ",")
	quantities := strings.Split(*p.Qty, ",")
	if len(skus) != len(quantities) {
		return nil, apperrors.ErrMalformedPayload(entry.ID,
			fmt.Sprintf("items has %d elements but qty has %d", len(skus), len(quantities)))
	}

	items := make([]ReturnedItem, 0, len(skus))
	for i := range skus {
		sku := strings.TrimSpace(skus[i])
		if sku == "" {
			return nil, apperrors.ErrMalformedPayload(entry.ID, fmt.Sprintf("empty sku at position %d", i))
		}
		qty, err := strconv.Atoi(strings.TrimSpace(quantities[i]))
		if err != nil {
			return nil, apperrors.ErrMalformedPayload(entry.ID, fmt.Sprintf("qty %q for %s is not an integer", quantities[i], sku))
		}
		if qty < 0 {
			return nil, apperrors.ErrMalformedPayload(entry.ID, fmt.Sprintf("qty %d for %s is negative", qty, sku))
		}
		items = append(items, ReturnedItem{SKU: sku, Quantity: qty})
	}
	return items, nil
}

// MergeQueue groups entries by sales order, preserving the order in which sales
// orders, SKUs and quantities first appear. A malformed entry marks its order's
// request with Err; entries of other orders are unaffected.
func MergeQueue(entries []*QueueEntry) []*MergedRequest {
	var ordered []*MergedRequest
	bySalesOrder := make(map[string]*MergedRequest)

	for _, entry := range entries {
		req, ok := bySalesOrder[entry.SalesOrderNumber]
		if !ok {
			req = newMergedRequest(entry.SalesOrderNumber)
			bySalesOrder[entry.SalesOrderNumber] = req
			ordered = append(ordered, req)
		}
		req.addQueueID(entry.ID)

		items, err := ParsePayload(entry)
		if err != nil {
			if req.Err == nil {
				req.Err = err
			}
			continue
		}
		for _, item := range items {
			req.add(item.SKU, item.Quantity)
		}
	}

	return ordered
}
