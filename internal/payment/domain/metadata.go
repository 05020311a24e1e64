package domain

// LineItem is a product quantity the customer paid for.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PricedLine is a line of the price calculation captured at checkout.
type PricedLine struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	UnitPriceInCents int64  `json:"unit_price_in_cents"`
	Quantity         int    `json:"quantity"`
	LineTotalInCents int64  `json:"line_total_in_cents"`
}

// PriceSummary records how the charged amount was derived.
type PriceSummary struct {
	SubtotalInCents     int64        `json:"subtotal_in_cents"`
	DiscountInCents     int64        `json:"discount_in_cents"`
	TotalInCents        int64        `json:"total_in_cents"`
	AdjustedInCents     int64        `json:"adjusted_in_cents"`
	AppliedDiscountCode string       `json:"applied_discount_code,omitempty"`
	Lines               []PricedLine `json:"lines,omitempty"`
}

// Metadata is the structured side data kept with a transaction.
type Metadata struct {
	Items                []LineItem        `json:"items,omitempty"`
	Pricing              *PriceSummary     `json:"pricing,omitempty"`
	GatewayStatusMessage string            `json:"gateway_status_message,omitempty"`
	DeliveryID           string            `json:"delivery_id,omitempty"`
	Extra                map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy. A nil receiver returns nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Items != nil {
		cp.Items = append([]LineItem(nil), m.Items...)
	}
	if m.Pricing != nil {
		p := *m.Pricing
		if m.Pricing.Lines != nil {
			p.Lines = append([]PricedLine(nil), m.Pricing.Lines...)
		}
		cp.Pricing = &p
	}
	if m.Extra != nil {
		cp.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// LineItems returns the purchased items recorded at checkout.
func (t *Transaction) LineItems() []LineItem {
	if t.Metadata == nil {
		return nil
	}
	return append([]LineItem(nil), t.Metadata.Items...)
}

// MetadataWith returns a copy of the transaction metadata with fn applied.
func (t *Transaction) MetadataWith(fn func(m *Metadata)) *Metadata {
	md := t.Metadata.Clone()
	if md == nil {
		md = &Metadata{}
	}
	fn(md)
	return md
}
