package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// ServerTime returns the venue clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	data, err := c.do(ctx, request{
		op:     "server_time",
		class:  ClassMarket,
		method: http.MethodGet,
		path:   c.cfg.Endpoints.ServerTime,
	})
	if err != nil {
		return time.Time{}, err
	}
	return parseServerTime(data)
}

// Account returns the balance for the configured margin coin.
func (c *Client) Account(ctx context.Context) (domain.Account, error) {
	data, err := c.do(ctx, request{
		op:      "accounts",
		class:   ClassAccount,
		method:  http.MethodGet,
		path:    c.cfg.Endpoints.Accounts,
		query:   url.Values{"productType": {c.cfg.ProductType}},
		private: true,
	})
	if err != nil {
		return domain.Account{}, err
	}
	return parseAccount(data, c.cfg.MarginCoin)
}

// Positions lists open positions. Entries that fail to parse are returned
// in PositionBatch.Malformed.
func (c *Client) Positions(ctx context.Context) (PositionBatch, error) {
	data, err := c.do(ctx, request{
		op:     "positions",
		class:  ClassAccount,
		method: http.MethodGet,
		path:   c.cfg.Endpoints.Positions,
		query: url.Values{
			"productType": {c.cfg.ProductType},
			"marginCoin":  {c.cfg.MarginCoin},
		},
		private: true,
	})
	if err != nil {
		return PositionBatch{}, err
	}
	return parsePositions(data)
}

type placeOrderBody struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Size        string `json:"size"`
	Price       string `json:"price,omitempty"`
	Side        string `json:"side"`
	TradeSide   string `json:"tradeSide,omitempty"`
	OrderType   string `json:"orderType"`
	Force       string `json:"force,omitempty"`
	ClientOid   string `json:"clientOid"`
	ReduceOnly  string `json:"reduceOnly,omitempty"`
}

// PlaceOrder submits a reduce-only exit order. The client order id is
// derived from the idempotency key so a repeated submission for the same
// position, verdict and poll is rejected by the venue as a duplicate.
func (c *Client) PlaceOrder(ctx context.Context, o domain.OrderRequest) (domain.OrderResult, error) {
	body := placeOrderBody{
		Symbol:      o.Symbol,
		ProductType: c.cfg.ProductType,
		MarginMode:  c.cfg.MarginMode,
		MarginCoin:  o.MarginCoin,
		Size:        o.Quantity.String(),
		OrderType:   string(o.Type),
		ClientOid:   ClientOrderID(o.IdempotencyKey),
	}
	if body.MarginCoin == "" {
		body.MarginCoin = c.cfg.MarginCoin
	}
	if o.Type == domain.OrderTypeLimit {
		body.Price = o.Price.String()
		body.Force = "gtc"
	}

	if c.cfg.PositionMode == "hedge" {
		// hedge mode closes with the opening side plus tradeSide=close
		body.TradeSide = "close"
		body.Side = "buy"
		if o.PositionSide == domain.SideShort {
			body.Side = "sell"
		}
	} else {
		body.ReduceOnly = "YES"
		body.Side = "sell"
		if o.PositionSide == domain.SideShort {
			body.Side = "buy"
		}
	}

	data, err := c.do(ctx, request{
		op:      "place_order",
		class:   ClassOrder,
		method:  http.MethodPost,
		path:    c.cfg.Endpoints.PlaceOrder,
		body:    body,
		private: true,
	})
	if err != nil {
		return domain.OrderResult{}, err
	}
	res, err := parseOrderResult(data)
	if err != nil {
		return res, err
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = body.ClientOid
	}
	return res, nil
}

var clientOrderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("position-monitor/client-order"))

// ClientOrderID maps an idempotency key to a venue-safe client order id.
func ClientOrderID(key string) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(key)).String()
}

// IdempotencyKey is position id + verdict + poll sequence.
func IdempotencyKey(positionID string, verdict domain.Verdict, pollSeq uint64) string {
	return positionID + ":" + string(verdict) + ":" + strconv.FormatUint(pollSeq, 10)
}
