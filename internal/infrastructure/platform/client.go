package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/wms-platform/returns-service/internal/application"
	"github.com/wms-platform/returns-service/internal/domain"
	apperrors "github.com/wms-platform/returns-service/pkg/errors"
	"github.com/wms-platform/returns-service/pkg/logging"
	"github.com/wms-platform/returns-service/pkg/metrics"
	"github.com/wms-platform/returns-service/pkg/resilience"
	"github.com/wms-platform/returns-service/pkg/tracing"
)

const maxErrorBody = 512

// Config holds order-management platform settings
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the order-management platform over its JSON API. It serves
// both order resolution and return/refund submission.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	validate   *validator.Validate
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

var (
	_ application.SalesOrderResolver  = (*Client)(nil)
	_ application.OrderPlatformClient = (*Client)(nil)
)

// NewClient creates a new platform Client
func NewClient(config *Config, logger *logging.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cbConfig := resilience.DefaultCircuitBreakerConfig("order-platform")
	// 4xx answers are the caller's problem and must not open the breaker
	cbConfig.IsFailure = func(err error) bool {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return !statusErr.IsClientError()
		}
		return true
	}

	var observers []resilience.StateObserver
	if m != nil {
		observers = append(observers, func(name string, _, to gobreaker.State) {
			m.SetCircuitBreakerState(name, int(to))
		})
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    resilience.NewCircuitBreaker(cbConfig, logger.Logger, observers...),
		validate:   validator.New(),
		logger:     logger.WithComponent("platform-client"),
		metrics:    m,
	}
}

// doRequest performs an HTTP request through the circuit breaker and decodes
// the response into result
func (c *Client) doRequest(ctx context.Context, operation, method, path string, body, result interface{}) error {
	start := time.Now()
	status := 0

	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var err error
		status, err = c.send(ctx, method, c.baseURL+path, body, result)
		return nil, err
	})

	duration := time.Since(start)
	c.logger.PlatformRequest(ctx, operation, method, path, status, duration)
	if c.metrics != nil {
		c.metrics.RecordPlatformRequest(operation, err == nil, duration)
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.ErrServiceUnavailable("order platform").
			WithDetail("operation", operation).
			Wrap(err)
	}
	if err != nil {
		return apperrors.ErrPlatformRequest(operation, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body, result interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: text}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if err := c.validate.Struct(result); err != nil {
			return resp.StatusCode, fmt.Errorf("invalid response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// GetOrderID looks an order up by its sales order number
func (c *Client) GetOrderID(ctx context.Context, salesOrderNumber string) (string, bool, error) {
	path := "/orders?" + url.Values{"name": {salesOrderNumber}, "fields": {"id"}}.Encode()
	var result ordersResponse
	if err := c.doRequest(ctx, application.OpGetOrderID, http.MethodGet, path, nil, &result); err != nil {
		return "", false, err
	}
	if len(result.Orders) == 0 {
		return "", false, nil
	}
	return result.Orders[0].ID, true, nil
}

// GetOrderDetails retrieves an order with line items, fulfillments and payments
func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (*domain.Order, error) {
	var result orderResponse
	if err := c.doRequest(ctx, application.OpGetOrderDetails, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &result); err != nil {
		return nil, err
	}
	return result.Order, nil
}

// GetReturn retrieves the returns recorded against an order. It returns nil
// when the order has none.
func (c *Client) GetReturn(ctx context.Context, orderID string) (*domain.ReturnsState, error) {
	var result returnsResponse
	err := c.doRequest(ctx, application.OpGetReturn, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/returns", nil, &result)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(result.Returns) == 0 {
		return nil, nil
	}
	return &domain.ReturnsState{Returns: result.Returns}, nil
}

// GetFulfillments retrieves the shipments of an order
func (c *Client) GetFulfillments(ctx context.Context, orderID string) ([]domain.Fulfillment, error) {
	var result fulfillmentsResponse
	if err := c.doRequest(ctx, application.OpGetFulfillments, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/fulfillments", nil, &result); err != nil {
		return nil, err
	}
	return result.Fulfillments, nil
}

// ReturnOrder submits a return request
func (c *Client) ReturnOrder(ctx context.Context, request *domain.ReturnRequest) error {
	return c.doRequest(ctx, application.OpReturnOrder, http.MethodPost, "/orders/"+url.PathEscape(request.OrderSeq)+"/returns", request, nil)
}

// RefundOrder submits a refund request
func (c *Client) RefundOrder(ctx context.Context, request *domain.RefundRequest) error {
	return c.doRequest(ctx, application.OpRefundOrder, http.MethodPost, "/orders/"+url.PathEscape(request.OrderID)+"/refunds", request, nil)
}

// CloseReturn resolves an open return
func (c *Client) CloseReturn(ctx context.Context, returnID string) error {
	return c.doRequest(ctx, application.OpCloseReturn, http.MethodPost, "/returns/"+url.PathEscape(returnID)+"/close", nil, nil)
}
