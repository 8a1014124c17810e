package types

import (
	"encoding/json"
	"math"
	"strings"
)

// LineItem is a negotiated line inside a payload
type LineItem struct {
	Name         string `json:"name"`
	UnitPriceYen int64  `json:"unitPriceYen"`
	Quantity     int64  `json:"quantity"`
}

// NegotiationPayload is the typed projection of the open JSON payload map.
// Legacy rows may carry the buyer identity only here, under buyerId; new
// write paths always set the normalized column instead.
type NegotiationPayload struct {
	BuyerID    string     `json:"buyerId,omitempty"`
	Address    string     `json:"address,omitempty"`
	PersonName string     `json:"personName,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	ItemName   string     `json:"itemName,omitempty"`
	MakerName  string     `json:"makerName,omitempty"`
	TaxRate    float64    `json:"taxRate,omitempty"`
	TotalYen   int64      `json:"totalYen,omitempty"`
	LineItems  []LineItem `json:"lineItems,omitempty"`
}

// DecodePayload projects the raw payload JSON into its typed form.
// An empty payload decodes to the zero value.
func DecodePayload(raw string) (NegotiationPayload, error) {
	var p NegotiationPayload
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return NegotiationPayload{}, err
	}
	return p, nil
}

// HasShippingInfo reports whether the payload carries a complete shipping
// destination: a non-empty address and recipient name.
func (p NegotiationPayload) HasShippingInfo() bool {
	return strings.TrimSpace(p.Address) != "" && strings.TrimSpace(p.PersonName) != ""
}

// TotalAmountYen derives the deterministic trade amount: the explicit total
// when one is stored, otherwise the line-item subtotal grossed up by the tax
// rate and rounded down to the nearest yen.
func (p NegotiationPayload) TotalAmountYen() int64 {
	if p.TotalYen > 0 {
		return p.TotalYen
	}
	var subtotal int64
	for _, li := range p.LineItems {
		subtotal += li.UnitPriceYen * li.Quantity
	}
	if subtotal <= 0 {
		return 0
	}
	return int64(math.Floor(float64(subtotal) * (1 + p.TaxRate)))
}

// MergePayload overlays patch onto the raw payload map and returns the
// re-encoded JSON. Keys absent from the patch keep their current values.
func MergePayload(raw string, patch map[string]interface{}) (string, error) {
	merged := map[string]interface{}{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			return "", err
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// MergeSnapshotIntoPayload copies snapshot keys into the payload map without
// overwriting keys the payload already carries: negotiated conditions win
// over the listing's original terms.
func MergeSnapshotIntoPayload(payloadRaw, snapshotRaw string) (string, error) {
	if strings.TrimSpace(snapshotRaw) == "" {
		return payloadRaw, nil
	}
	payload := map[string]interface{}{}
	if strings.TrimSpace(payloadRaw) != "" {
		if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
			return "", err
		}
	}
	snapshot := map[string]interface{}{}
	if err := json.Unmarshal([]byte(snapshotRaw), &snapshot); err != nil {
		return "", err
	}
	for k, v := range snapshot {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
