package platform

import (
	"fmt"

	"github.com/wms-platform/returns-service/internal/domain"
)

type orderRef struct {
	ID string `json:"id" validate:"required"`
}

type ordersResponse struct {
	Orders []orderRef `json:"orders" validate:"dive"`
}

type orderResponse struct {
	Order *domain.Order `json:"order" validate:"required"`
}

type returnsResponse struct {
	Returns []domain.Return `json:"returns" validate:"dive"`
}

type fulfillmentsResponse struct {
	Fulfillments []domain.Fulfillment `json:"fulfillments" validate:"dive"`
}

// StatusError is a non-2xx platform response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports a 4xx response
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
