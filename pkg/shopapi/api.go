// Package shopapi exposes the typed surface of the shop admin REST API:
// customer search, order counts, and paged order listings. Every call goes
// through the rate-limited retrying caller and every response is validated
// at this boundary.
package shopapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/client"
	"github.com/seolo/mallsync/pkg/datewindow"
	"github.com/seolo/mallsync/pkg/logging"
	"github.com/seolo/mallsync/pkg/paging"
)

// ErrWindowTooWide is returned before any call when a date window exceeds
// the upstream's 3-calendar-month query ceiling.
var ErrWindowTooWide = errors.New("date window exceeds upstream 3-month ceiling")

// ErrInvalidRecord is returned when an upstream payload fails boundary
// validation.
var ErrInvalidRecord = errors.New("invalid upstream record")

// DefaultStatusFilter selects completed orders. One canonical predicate:
// the server-side status filter is applied uniformly to counts and listings.
const DefaultStatusFilter = "delivered"

// Config holds the API surface configuration.
type Config struct {
	// BaseURL of the admin API, e.g. "https://example.cafe24api.com".
	BaseURL string

	// ShopNo selects the storefront on multi-shop accounts.
	ShopNo int

	// PageSize for order listings.
	PageSize int

	// StatusFilter is the order_status applied to counts and listings.
	StatusFilter string

	// EmbedItems requests line items inline on order listings.
	EmbedItems bool

	// OffsetPaging selects offset-addressed listing calls; when false the
	// page-number form is used. The upstream serves both.
	OffsetPaging bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		ShopNo:       1,
		PageSize:     100,
		StatusFilter: DefaultStatusFilter,
		OffsetPaging: true,
	}
}

// API is the typed admin API surface.
type API struct {
	caller *client.Caller
	config Config
	logger zerolog.Logger
}

// New creates the API surface over an existing caller.
func New(caller *client.Caller, cfg Config) (*API, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	if cfg.StatusFilter == "" {
		cfg.StatusFilter = DefaultStatusFilter
	}

	return &API{
		caller: caller,
		config: cfg,
		logger: logging.NewLogger("shopapi"),
	}, nil
}

// get performs one GET with query params and decodes the JSON body into out.
func (a *API) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("shop_no", strconv.Itoa(a.config.ShopNo))
	target := a.config.BaseURL + path + "?" + params.Encode()

	resp, err := a.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidRecord, path, err)
	}
	return nil
}

// SearchCustomersByPhone searches the customer directory by cellphone.
func (a *API) SearchCustomersByPhone(ctx context.Context, phone string) ([]Customer, error) {
	params := url.Values{}
	params.Set("cellphone", phone)

	var env customersEnvelope
	if err := a.get(ctx, "/api/v2/admin/customers", params, &env); err != nil {
		return nil, err
	}
	return validCustomers(env.Customers)
}

// SearchCustomersByLoginID searches the customer directory by login id.
func (a *API) SearchCustomersByLoginID(ctx context.Context, loginID string) ([]Customer, error) {
	params := url.Values{}
	params.Set("member_id", loginID)

	var env customersEnvelope
	if err := a.get(ctx, "/api/v2/admin/customers", params, &env); err != nil {
		return nil, err
	}
	return validCustomers(env.Customers)
}

// validCustomers narrows directory results: records without a member id are
// rejected rather than passed downstream.
func validCustomers(customers []Customer) ([]Customer, error) {
	for _, c := range customers {
		if c.MemberID == "" {
			return nil, fmt.Errorf("%w: customer without member_id", ErrInvalidRecord)
		}
	}
	return customers, nil
}

// windowParams encodes one date window plus the canonical status filter.
func (a *API) windowParams(memberID string, w datewindow.Window) (url.Values, error) {
	if !w.Start.AddDate(0, datewindow.DefaultCeilingMonths, 0).After(w.End) {
		return nil, fmt.Errorf("%w: %s", ErrWindowTooWide, w)
	}
	params := url.Values{}
	params.Set("member_id", memberID)
	params.Set("start_date", w.Start.Format("2006-01-02"))
	params.Set("end_date", w.End.Format("2006-01-02"))
	params.Set("order_status", a.config.StatusFilter)
	return params, nil
}

// CountOrders returns the authoritative order count for one window. Cheap:
// a single call, no pagination.
func (a *API) CountOrders(ctx context.Context, memberID string, w datewindow.Window) (int, error) {
	params, err := a.windowParams(memberID, w)
	if err != nil {
		return 0, err
	}

	var env countEnvelope
	if err := a.get(ctx, "/api/v2/admin/orders/count", params, &env); err != nil {
		return 0, err
	}
	if env.Count == nil {
		return 0, fmt.Errorf("%w: count missing from response", ErrInvalidRecord)
	}
	return *env.Count, nil
}

// ListOrders returns every order in one window, walking the listing to
// exhaustion. The window must respect the upstream ceiling; wider ranges
// are the caller's job to split first.
func (a *API) ListOrders(ctx context.Context, memberID string, w datewindow.Window) ([]Order, error) {
	params, err := a.windowParams(memberID, w)
	if err != nil {
		return nil, err
	}
	if a.config.EmbedItems {
		params.Set("embed", "items")
	}

	fetch := func(ctx context.Context, pageParams url.Values) ([]Order, error) {
		var env ordersEnvelope
		if err := a.get(ctx, "/api/v2/admin/orders", pageParams, &env); err != nil {
			return nil, err
		}
		return env.Orders, nil
	}

	if a.config.OffsetPaging {
		return paging.FetchAllOffsets(ctx, func(ctx context.Context, offset, limit int) ([]Order, error) {
			p := cloneValues(params)
			p.Set("offset", strconv.Itoa(offset))
			p.Set("limit", strconv.Itoa(limit))
			return fetch(ctx, p)
		}, a.config.PageSize)
	}

	return paging.FetchAllPages(ctx, func(ctx context.Context, page, limit int) ([]Order, error) {
		p := cloneValues(params)
		p.Set("page", strconv.Itoa(page))
		p.Set("limit", strconv.Itoa(limit))
		return fetch(ctx, p)
	}, a.config.PageSize)
}

// GetOrder returns one order's detail record.
func (a *API) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var env orderEnvelope
	if err := a.get(ctx, "/api/v2/admin/orders/"+url.PathEscape(orderID), url.Values{}, &env); err != nil {
		return nil, err
	}
	if env.Order == nil || env.Order.OrderID == "" {
		return nil, fmt.Errorf("%w: order missing from response", ErrInvalidRecord)
	}
	return env.Order, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
