package kitchen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
)

var (
	ErrUnauthorized = errors.New("kitchen: unauthorized")

	// ErrListTruncated is returned with the orders fetched so far when the
	// displayed list did not fit in maxFetchPages pages.
	ErrListTruncated = errors.New("kitchen: order list truncated")
)

const (
	// FetchPageSize matches the API's per-request cap.
	FetchPageSize = 500
	maxFetchPages = 40
)

// DisplayedStatuses are the statuses the kitchen fetches on refresh; both
// views are served from the same list.
var DisplayedStatuses = []order.Status{order.StatusPending, order.StatusPreparing, order.StatusReady}

// APIClient talks to the order API over REST. Status changes go through it
// even while the push channel is down.
type APIClient struct {
	baseURL  string
	token    string
	http     *http.Client
	pageSize int
}

func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     httpClient,
		pageSize: FetchPageSize,
	}
}

type apiError struct {
	Code    string       `json:"error"`
	Message string       `json:"message"`
	Order   *order.Order `json:"order,omitempty"`
}

// Fetch returns the authoritative list of displayed orders, following
// offset pages until a short page. When the page cap is hit the partial list
// is returned with ErrListTruncated.
func (c *APIClient) Fetch(ctx context.Context) ([]*order.Order, error) {
	statuses := make([]string, len(DisplayedStatuses))
	for i, s := range DisplayedStatuses {
		statuses[i] = string(s)
	}
	q := url.Values{}
	q.Set("status", strings.Join(statuses, ","))
	q.Set("limit", strconv.Itoa(c.pageSize))

	var orders []*order.Order
	for page := 0; page < maxFetchPages; page++ {
		q.Set("offset", strconv.Itoa(page*c.pageSize))
		var batch []*order.Order
		if err := c.do(ctx, http.MethodGet, "/orders?"+q.Encode(), nil, &batch); err != nil {
			return nil, err
		}
		orders = append(orders, batch...)
		if len(batch) < c.pageSize {
			return orders, nil
		}
	}
	return orders, fmt.Errorf("%w after %d orders", ErrListTruncated, len(orders))
}

// ChangeStatus requests a transition. On ErrInvalidTransition and
// ErrConflictingUpdate the returned order is the server's current state.
func (c *APIClient) ChangeStatus(ctx context.Context, id int64, to order.Status) (*order.Order, error) {
	body, err := json.Marshal(map[string]order.Status{"status": to})
	if err != nil {
		return nil, err
	}
	var o order.Order
	err = c.do(ctx, http.MethodPatch, "/orders/"+strconv.FormatInt(id, 10)+"/status", body, &o)
	var ae *statusError
	if errors.As(err, &ae) && ae.body.Order != nil {
		return ae.body.Order, err
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// RequestRefresh asks the API to tell every display to refresh.
func (c *APIClient) RequestRefresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/orders/refresh", nil, nil)
}

type statusError struct {
	status int
	body   apiError
	err    error
}

func (e *statusError) Error() string {
	msg := e.body.Message
	if msg == "" {
		msg = e.body.Code
	}
	return fmt.Sprintf("api %d: %s", e.status, msg)
}

func (e *statusError) Unwrap() error { return e.err }

func (c *APIClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		se := &statusError{status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&se.body)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			se.err = ErrUnauthorized
		case resp.StatusCode == http.StatusNotFound:
			se.err = order.ErrOrderNotFound
		case se.body.Code == "invalid_transition":
			se.err = order.ErrInvalidTransition
		case se.body.Code == "conflicting_update":
			se.err = order.ErrConflictingUpdate
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
