package application

import (
	"context"

	"github.com/wms-platform/returns-service/internal/domain"
)

// SalesOrderResolver maps sales order numbers to platform orders
type SalesOrderResolver interface {
	// GetOrderID returns false when no platform order carries the number
	GetOrderID(ctx context.Context, salesOrderNumber string) (string, bool, error)
	GetOrderDetails(ctx context.Context, orderID string) (*domain.Order, error)
}

// OrderPlatformClient submits returns and refunds to the order-management platform
type OrderPlatformClient interface {
	// GetReturn returns nil when the order has no returns
	GetReturn(ctx context.Context, orderID string) (*domain.ReturnsState, error)
	GetFulfillments(ctx context.Context, orderID string) ([]domain.Fulfillment, error)
	ReturnOrder(ctx context.Context, request *domain.ReturnRequest) error
	RefundOrder(ctx context.Context, request *domain.RefundRequest) error
	CloseReturn(ctx context.Context, returnID string) error
}
