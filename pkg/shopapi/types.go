package shopapi

import (
	"fmt"
	"strconv"
)

// Customer is one account record from the customer directory.
type Customer struct {
	MemberID  string `json:"member_id"`
	Name      string `json:"name"`
	Cellphone string `json:"cellphone"`
	Email     string `json:"email"`
	Group     int    `json:"group_no"`
	CreatedAt string `json:"created_date"`
}

// Order is one order record from the order listing.
type Order struct {
	OrderID       string `json:"order_id"`
	MemberID      string `json:"member_id"`
	OrderDate     string `json:"order_date"`
	Status        string `json:"order_status"`
	PaymentAmount string `json:"payment_amount"`
	Currency      string `json:"currency"`
	Items         []Item `json:"items,omitempty"`
}

// Item is one line item, present only when the listing was embedded.
type Item struct {
	ProductNo int    `json:"product_no"`
	Name      string `json:"product_name"`
	Quantity  int    `json:"quantity"`
}

// Amount parses the order's monetary field. The upstream serializes amounts
// as decimal strings.
func (o Order) Amount() (float64, error) {
	if o.PaymentAmount == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(o.PaymentAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("order %s: bad payment amount %q: %w", o.OrderID, o.PaymentAmount, err)
	}
	return v, nil
}

// Wire envelopes. The upstream wraps every payload; fields are narrowed and
// validated here so downstream code never probes raw maps.

type customersEnvelope struct {
	Customers []Customer `json:"customers"`
}

type ordersEnvelope struct {
	Orders []Order `json:"orders"`
}

type countEnvelope struct {
	Count *int `json:"count"`
}

type orderEnvelope struct {
	Order *Order `json:"order"`
}
