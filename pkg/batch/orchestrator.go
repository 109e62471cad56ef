package batch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/client"
	"github.com/seolo/mallsync/pkg/datewindow"
	"github.com/seolo/mallsync/pkg/shopapi"
)

// Machine-readable error codes attached to per-identifier failures.
const (
	CodeCustomerNotFound = "CUSTOMER_NOT_FOUND"
	CodeTimeout          = "TIMEOUT_ERROR"
	CodeNetwork          = "NETWORK_ERROR"
	CodeAuth             = "AUTH_ERROR"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// CustomerReport is the aggregated purchase history for one resolved
// customer.
type CustomerReport struct {
	MemberID            string   `json:"memberId"`
	Name                string   `json:"name"`
	Cellphone           string   `json:"cellphone"`
	Email               string   `json:"email"`
	TotalOrders         int      `json:"totalOrders"`
	TotalPurchaseAmount float64  `json:"totalPurchaseAmount"`
	Strategy            Strategy `json:"strategy"`
}

// Result is the per-identifier outcome. Exactly one of Data or
// ErrorCode is set.
type Result struct {
	Input     string          `json:"input"`
	OK        bool            `json:"ok"`
	Data      *CustomerReport `json:"data,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Message   string          `json:"message,omitempty"`
	Details   string          `json:"details,omitempty"`
}

func okResult(input string, report *CustomerReport) Result {
	return Result{Input: input, OK: true, Data: report}
}

func errResult(input, code, message, details string) Result {
	return Result{Input: input, ErrorCode: code, Message: message, Details: details}
}

// Directory is the admin API surface the orchestrator drives. It is
// satisfied by *shopapi.API.
type Directory interface {
	CustomerSearcher
	CountOrders(ctx context.Context, memberID string, w datewindow.Window) (int, error)
	ListOrders(ctx context.Context, memberID string, w datewindow.Window) ([]shopapi.Order, error)
}

// Orchestrator runs the per-identifier pipeline: resolve the identifier
// to an account, walk the reporting windows sequentially, and aggregate
// order counts and purchase amounts into one Result.
type Orchestrator struct {
	dir      Directory
	resolver *Resolver
	period   datewindow.Period
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator for one reporting period.
func NewOrchestrator(dir Directory, resolver *Resolver, period datewindow.Period, logger zerolog.Logger) (*Orchestrator, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if !period.Valid() {
		return nil, fmt.Errorf("invalid reporting period: %q", period)
	}
	return &Orchestrator{
		dir:      dir,
		resolver: resolver,
		period:   period,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}, nil
}

// Process handles one raw identifier end to end. It never returns an
// error: every failure mode is encoded into the Result so sibling items
// in a batch are unaffected.
func (o *Orchestrator) Process(ctx context.Context, raw string) Result {
	input := Normalize(raw)
	if input == "" {
		return errResult(raw, CodeCustomerNotFound, "empty identifier", "")
	}

	res, err := o.resolver.Resolve(ctx, input)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			o.logger.Debug().Str("identifier", input).Msg("No account matched")
			return errResult(input, CodeCustomerNotFound, "no account matched the identifier", "")
		}
		return o.failure(input, err)
	}

	windows, err := datewindow.ReportingWindows(o.period, o.now(), datewindow.APIZone)
	if err != nil {
		return o.failure(input, err)
	}

	var totalOrders int
	var totalAmount float64
	// Windows are walked sequentially to keep per-identifier in-flight
	// requests bounded.
	for _, w := range windows {
		count, err := o.dir.CountOrders(ctx, res.Customer.MemberID, w)
		if err != nil {
			return o.failure(input, err)
		}
		if count == 0 {
			continue
		}
		orders, err := o.dir.ListOrders(ctx, res.Customer.MemberID, w)
		if err != nil {
			return o.failure(input, err)
		}
		totalOrders += len(orders)
		for _, order := range orders {
			amount, err := order.Amount()
			if err != nil {
				o.logger.Warn().
					Str("order_id", order.OrderID).
					Str("amount", order.PaymentAmount).
					Msg("Unparseable payment amount, skipped in total")
				continue
			}
			totalAmount += amount
		}
	}

	o.logger.Debug().
		Str("identifier", input).
		Str("member_id", res.Customer.MemberID).
		Int("total_orders", totalOrders).
		Float64("total_amount", totalAmount).
		Msg("Identifier processed")

	return okResult(input, &CustomerReport{
		MemberID:            res.Customer.MemberID,
		Name:                res.Customer.Name,
		Cellphone:           res.Customer.Cellphone,
		Email:               res.Customer.Email,
		TotalOrders:         totalOrders,
		TotalPurchaseAmount: totalAmount,
		Strategy:            res.Strategy,
	})
}

func (o *Orchestrator) failure(input string, err error) Result {
	code, message := classifyError(err)
	o.logger.Error().
		Err(err).
		Str("identifier", input).
		Str("code", code).
		Msg("Identifier processing failed")
	return errResult(input, code, message, err.Error())
}

// classifyError maps a pipeline error to a stable machine-readable code.
// The original error text always travels in the result's Details field.
func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, client.ErrAuthExpired) || errors.Is(err, client.ErrTokenRefresh):
		return CodeAuth, "authentication with the admin API failed"
	case client.IsTimeout(err):
		return CodeTimeout, "upstream call timed out"
	case isNetworkError(err):
		return CodeNetwork, "network failure reaching the admin API"
	default:
		return CodeUnknown, "unexpected processing failure"
	}
}

func isNetworkError(err error) bool {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorClass == client.ErrorClassNetwork {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
