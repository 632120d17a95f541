package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// --- Order Structures (rows of public.orders joined with order_items) ---

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine-in"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID            int64           `json:"id"`
	UniqueOrderID string          `json:"unique_order_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	OrderType     OrderType       `json:"order_type"`
	Status        OrderStatus     `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedAt     string          `json:"created_at"`
	Items         []OrderItem     `json:"order_items"`

	// Token is the client-local daily ticket number, 0 when unassigned.
	Token int `json:"token,omitempty"`
}

// Code is the human-facing order identifier, falling back to the numeric id.
func (o Order) Code() string {
	if o.UniqueOrderID != "" {
		return o.UniqueOrderID
	}
	return fmt.Sprintf("%d", o.ID)
}

type OrderItem struct {
	ID            int64           `json:"id,omitempty"`
	OrderID       int64           `json:"order_id,omitempty"`
	ProductConfig ProductConfig   `json:"product_config"`
	Quantity      int             `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

// UnitPrice is derived from the line total; it is never stored.
func (i OrderItem) UnitPrice() decimal.Decimal {
	if i.Quantity <= 0 {
		return i.TotalPrice
	}
	return i.TotalPrice.Div(decimal.NewFromInt(int64(i.Quantity)))
}

type ProductConfig struct {
	Name           string         `json:"name"`
	Customizations map[string]any `json:"customizations,omitempty"`
}

// Customization is one rendered key/value pair of a product configuration.
type Customization struct {
	Key   string
	Label string
	Value string
}

var customizationLabels = map[string]string{
	"size":             "Size",
	"selectedSauce":    "Sauce",
	"selectedToppings": "Toppings",
	"selectedAddOns":   "Add-ons",
}

var customizationOrder = []string{"size", "selectedSauce", "selectedToppings", "selectedAddOns"}

// CustomizationList flattens the customization map into display order:
// well-known keys first, the rest alphabetically. Empty values are skipped.
func (p ProductConfig) CustomizationList() []Customization {
	if len(p.Customizations) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(customizationOrder))
	var out []Customization
	add := func(key string) {
		seen[key] = true
		raw, ok := p.Customizations[key]
		if !ok {
			return
		}
		value := customizationValue(raw)
		if value == "" {
			return
		}
		out = append(out, Customization{Key: key, Label: customizationLabel(key), Value: value})
	}

	for _, key := range customizationOrder {
		add(key)
	}

	rest := make([]string, 0, len(p.Customizations))
	for key := range p.Customizations {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		add(key)
	}
	return out
}

func customizationLabel(key string) string {
	if label, ok := customizationLabels[key]; ok {
		return label
	}
	key = strings.TrimPrefix(key, "selected")

	var b strings.Builder
	for i, r := range key {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case i > 0 && r >= 'A' && r <= 'Z':
			b.WriteRune(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	label := strings.TrimSpace(b.String())
	if label == "" {
		return key
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func customizationValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []string:
		return strings.Join(nonEmpty(v), ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, customizationValue(item))
		}
		return strings.Join(nonEmpty(parts), ", ")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := customizationValue(v[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, ", ")
	case bool:
		if v {
			return "Yes"
		}
		return ""
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return fmt.Sprint(v)
	}
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FormatMoney renders a currency value fixed to two decimal places.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}
