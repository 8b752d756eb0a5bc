package integration

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ProductRecord is one element of a feed batch.
// Only identity fields are projected; Raw keeps the element exactly as received.
type ProductRecord struct {
	ID    string
	SKU   string
	Name  string
	Price decimal.NullDecimal
	Raw   json.RawMessage
}

type productRecordFields struct {
	ID    json.RawMessage `json:"id"`
	SKU   json.RawMessage `json:"sku"`
	Name  json.RawMessage `json:"name"`
	Price json.RawMessage `json:"price"`
}

// UnmarshalJSON implements json.Unmarshaler.
// Numeric and string ids are both accepted. An unparseable price is left invalid
// rather than rejecting the record.
func (p *ProductRecord) UnmarshalJSON(data []byte) error {
	var fields productRecordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.ID = rawScalar(fields.ID)
	p.SKU = rawScalar(fields.SKU)
	p.Name = rawScalar(fields.Name)
	p.Price = rawDecimal(fields.Price)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the record as it was received
func (p ProductRecord) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	out := map[string]any{"id": p.ID}
	if p.SKU != "" {
		out["sku"] = p.SKU
	}
	if p.Name != "" {
		out["name"] = p.Name
	}
	if p.Price.Valid {
		out["price"] = p.Price.Decimal
	}
	return json.Marshal(out)
}

func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func rawDecimal(raw json.RawMessage) decimal.NullDecimal {
	value := rawScalar(raw)
	if value == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
