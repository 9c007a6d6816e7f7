package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
)

// Response is the envelope every provider call returns. It is never nil, even
// when the call fails.
type Response[T any] struct {
	Success    bool   `json:"success"`
	Data       T      `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode"`
	DurationMs int64  `json:"durationMs"`
	Attempts   int    `json:"attempts"`
}

// Service is one entry of action=services.
type Service struct {
	Service  FlexString  `json:"service"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Category string      `json:"category"`
	Rate     FlexDecimal `json:"rate"`
	Min      FlexInt     `json:"min"`
	Max      FlexInt     `json:"max"`
	Refill   FlexBool    `json:"refill"`
	Cancel   FlexBool    `json:"cancel"`
}

func (s Service) CatalogEntry() (*model.ServiceCatalogEntry, error) {
	id, err := strconv.ParseInt(string(s.Service), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("service id %q: %w", s.Service, err)
	}
	return &model.ServiceCatalogEntry{
		ServiceID: id,
		Name:      s.Name,
		Type:      s.Type,
		Category:  s.Category,
		Rate:      s.Rate.Decimal,
		Min:       s.Min.Value,
		Max:       s.Max.Value,
		Refill:    bool(s.Refill),
		Cancel:    bool(s.Cancel),
	}, nil
}

// AddResult is the answer to action=add. Both fields may be set: the vendor
// sometimes creates the order and still reports an error.
type AddResult struct {
	OrderID FlexString `json:"order"`
	Error   string     `json:"error,omitempty"`
}

// OrderStatus is the vendor view of one order.
type OrderStatus struct {
	Charge     FlexDecimal `json:"charge"`
	StartCount FlexInt     `json:"start_count"`
	Status     string      `json:"status"`
	Remains    FlexInt     `json:"remains"`
	Currency   string      `json:"currency"`
	Error      string      `json:"error,omitempty"`
}

func (s OrderStatus) Update() model.StatusUpdate {
	u := model.StatusUpdate{
		Status:     s.Status,
		StartCount: s.StartCount.Ptr(),
		Remains:    s.Remains.Ptr(),
		Currency:   s.Currency,
	}
	if s.Charge.Valid {
		charge := s.Charge.Decimal
		u.Charge = &charge
	}
	return u
}

// UnmarshalJSON accepts an object or a bare error string, which is how the
// batch status call reports unknown ids.
func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var msg string
		if err := json.Unmarshal(b, &msg); err != nil {
			return err
		}
		*s = OrderStatus{Error: msg}
		return nil
	}
	type plain OrderStatus
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = OrderStatus(p)
	return nil
}

type RefillResult struct {
	RefillID FlexString `json:"refill"`
	Error    string     `json:"error,omitempty"`
}

type CancelResult struct {
	OK    FlexBool `json:"ok"`
	Error string   `json:"error,omitempty"`
}

type Balance struct {
	Balance  FlexDecimal `json:"balance"`
	Currency string      `json:"currency"`
	Error    string      `json:"error,omitempty"`
}

// vendorError is the shape of a bare failure payload.
type vendorError struct {
	Error string `json:"error"`
}

// FlexString takes a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt takes 12, 12.0, "12" or "" and remembers whether a value was present.
type FlexInt struct {
	Value int64
	Valid bool
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = FlexInt{}
		return nil
	}
	d, err := decimal.NewFromString(string(s))
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = FlexInt{Value: d.IntPart(), Valid: true}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}

func (f FlexInt) Ptr() *int64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// FlexDecimal takes "0.42", 0.42 or "".
type FlexDecimal struct {
	Decimal decimal.Decimal
	Valid   bool
}

func (f *FlexDecimal) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = FlexDecimal{}
		return nil
	}
	d, err := decimal.NewFromString(string(s))
	if err != nil {
		return fmt.Errorf("not a decimal: %q", s)
	}
	*f = FlexDecimal{Decimal: d, Valid: true}
	return nil
}

func (f FlexDecimal) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Decimal.String())
}

// FlexBool takes true, "true", 1 or "1".
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		// booleans are not strings or numbers
		switch string(bytes.TrimSpace(b)) {
		case "true":
			*f = true
			return nil
		case "false":
			*f = false
			return nil
		}
		return err
	}
	switch strings.ToLower(string(s)) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}
