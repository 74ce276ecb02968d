package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// rawObject is one JSON object from a venue payload. It never leaves this
// package.
type rawObject map[string]json.RawMessage

func (o rawObject) raw(key string) (json.RawMessage, error) {
	v, ok := o[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

func (o rawObject) str(key string) (string, error) {
	v, err := o.raw(key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrFieldType, key)
	}
	return s, nil
}

func (o rawObject) optStr(key string) (string, error) {
	if _, ok := o[key]; !ok {
		return "", nil
	}
	if bytes.Equal(bytes.TrimSpace(o[key]), []byte("null")) {
		return "", nil
	}
	return o.str(key)
}

// number accepts a JSON number or a numeric string.
func (o rawObject) number(key string) (string, error) {
	v, err := o.raw(key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingField, key)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("%w: %s is not numeric", ErrFieldType, key)
	}
	return n.String(), nil
}

func (o rawObject) dec(key string) (decimal.Decimal, error) {
	s, err := o.number(key)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrFieldType, key, s)
	}
	return d, nil
}

// optPrice treats a missing, empty or non-positive value as absent.
func (o rawObject) optPrice(key string) (decimal.NullDecimal, error) {
	if _, err := o.raw(key); err != nil {
		return decimal.NullDecimal{}, nil
	}
	if s, err := o.str(key); err == nil && s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := o.dec(key)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if !d.IsPositive() {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(d), nil
}

func (o rawObject) integer(key string) (int, error) {
	s, err := o.number(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrFieldType, key, s)
	}
	return n, nil
}

func (o rawObject) millis(key string) (time.Time, error) {
	s, err := o.number(key)
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s=%q", ErrFieldType, key, s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// MalformedPosition is a position entry that failed to parse.
type MalformedPosition struct {
	Index int
	ID    string
	Err   error
}

// PositionBatch is the result of one positions fetch.
type PositionBatch struct {
	Positions []domain.Position
	Malformed []MalformedPosition
}

// parsePositions decodes the positions list. A bad entry is reported in
// Malformed and does not affect the others; a bad list is a Protocol error.
func parsePositions(data json.RawMessage) (PositionBatch, error) {
	var items []rawObject
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return PositionBatch{}, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return PositionBatch{}, &Error{Kind: KindProtocol, Op: "positions", Err: err}
	}

	var batch PositionBatch
	for i, item := range items {
		pos, err := parsePosition(item)
		if err != nil {
			batch.Malformed = append(batch.Malformed, MalformedPosition{
				Index: i,
				ID:    guessID(item),
				Err:   &Error{Kind: KindProtocol, Op: "positions", Err: err},
			})
			continue
		}
		batch.Positions = append(batch.Positions, pos)
	}
	return batch, nil
}

func parsePosition(o rawObject) (domain.Position, error) {
	var (
		p   domain.Position
		err error
	)
	if p.Symbol, err = o.str("symbol"); err != nil {
		return p, err
	}
	side, err := o.str("holdSide")
	if err != nil {
		return p, err
	}
	p.Side = domain.Side(side)
	if p.MarginCoin, err = o.optStr("marginCoin"); err != nil {
		return p, err
	}
	if p.EntryPrice, err = o.dec("openPriceAvg"); err != nil {
		return p, err
	}
	if p.MarkPrice, err = o.dec("markPrice"); err != nil {
		return p, err
	}
	if p.Quantity, err = o.dec("total"); err != nil {
		return p, err
	}
	if p.Leverage, err = o.integer("leverage"); err != nil {
		return p, err
	}
	if p.UnrealizedPnL, err = o.dec("unrealizedPL"); err != nil {
		return p, err
	}
	if p.OpenedAt, err = o.millis("cTime"); err != nil {
		return p, err
	}

	if p.LiquidationPrice, err = o.optPrice("liquidationPrice"); err != nil {
		return p, err
	}

	id, err := o.optStr("positionId")
	if err != nil {
		return p, err
	}
	if id == "" {
		id = p.Symbol + ":" + side
	}
	p.ID = id

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func guessID(o rawObject) string {
	if id, err := o.str("positionId"); err == nil && id != "" {
		return id
	}
	symbol, _ := o.str("symbol")
	side, _ := o.str("holdSide")
	if symbol == "" {
		return ""
	}
	return symbol + ":" + side
}

func parseAccount(data json.RawMessage, marginCoin string) (domain.Account, error) {
	var items []rawObject
	if err := json.Unmarshal(data, &items); err != nil {
		return domain.Account{}, &Error{Kind: KindProtocol, Op: "accounts", Err: err}
	}
	for _, item := range items {
		coin, err := item.str("marginCoin")
		if err != nil {
			return domain.Account{}, &Error{Kind: KindProtocol, Op: "accounts", Err: err}
		}
		if coin != marginCoin {
			continue
		}
		acc := domain.Account{MarginCoin: coin}
		if acc.Equity, err = item.dec("accountEquity"); err != nil {
			return acc, &Error{Kind: KindProtocol, Op: "accounts", Err: err}
		}
		if acc.Available, err = item.dec("available"); err != nil {
			return acc, &Error{Kind: KindProtocol, Op: "accounts", Err: err}
		}
		if acc.UnrealizedPnL, err = item.dec("unrealizedPL"); err != nil {
			return acc, &Error{Kind: KindProtocol, Op: "accounts", Err: err}
		}
		return acc, nil
	}
	return domain.Account{}, &Error{Kind: KindProtocol, Op: "accounts",
		Err: fmt.Errorf("no account for margin coin %s", marginCoin)}
}

func parseServerTime(data json.RawMessage) (time.Time, error) {
	var o rawObject
	if err := json.Unmarshal(data, &o); err != nil {
		return time.Time{}, &Error{Kind: KindProtocol, Op: "server_time", Err: err}
	}
	t, err := o.millis("serverTime")
	if err != nil {
		return time.Time{}, &Error{Kind: KindProtocol, Op: "server_time", Err: err}
	}
	return t, nil
}

func parseOrderResult(data json.RawMessage) (domain.OrderResult, error) {
	var o rawObject
	if err := json.Unmarshal(data, &o); err != nil {
		return domain.OrderResult{}, &Error{Kind: KindProtocol, Op: "place_order", Err: err}
	}
	id, err := o.str("orderId")
	if err != nil {
		return domain.OrderResult{}, &Error{Kind: KindProtocol, Op: "place_order", Err: err}
	}
	clientID, _ := o.optStr("clientOid")
	return domain.OrderResult{OrderID: id, ClientOrderID: clientID}, nil
}
