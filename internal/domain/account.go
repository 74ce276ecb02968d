package domain

import "github.com/shopspring/decimal"

// Account is the futures account balance used for sizing sanity checks.
type Account struct {
	MarginCoin    string          `json:"margin_coin"`
	Equity        decimal.Decimal `json:"equity"`
	Available     decimal.Decimal `json:"available"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// OrderType is the kind of exit order submitted to the venue.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is a reduce-only exit order for an open position.
type OrderRequest struct {
	PositionID     string          `json:"position_id"`
	Symbol         string          `json:"symbol"`
	MarginCoin     string          `json:"margin_coin"`
	PositionSide   Side            `json:"position_side"`
	Verdict        Verdict         `json:"verdict"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// OrderResult is the venue acknowledgement of a placed order.
type OrderResult struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
}
