package receipt

import "github.com/Riboost-Studio/order-print-desk/internal/model"

// Document is a formatted receipt ready for a print backend. Markup
// documents carry HTML; structured documents carry print primitives.
type Document struct {
	Mode       model.ReceiptMode `json:"mode"`
	OrderID    string            `json:"orderId"`
	WidthMM    float64           `json:"widthMm"`
	HTML       string            `json:"html,omitempty"`
	Primitives []Primitive       `json:"primitives,omitempty"`
}

type Kind string

const (
	KindText  Kind = "text"
	KindRule  Kind = "rule"
	KindTable Kind = "table"
	KindFeed  Kind = "feed"
	KindCut   Kind = "cut"
)

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

type TextStyle struct {
	Bold      bool  `json:"bold,omitempty"`
	Underline bool  `json:"underline,omitempty"`
	Double    bool  `json:"double,omitempty"`
	Align     Align `json:"align,omitempty"`
}

// Column is one table cell; Width is the fraction of the line it occupies.
type Column struct {
	Text  string  `json:"text"`
	Width float64 `json:"width"`
	Align Align   `json:"align,omitempty"`
	Bold  bool    `json:"bold,omitempty"`
}

// Primitive is a backend-agnostic print instruction.
type Primitive struct {
	Kind    Kind      `json:"type"`
	Text    string    `json:"text,omitempty"`
	Style   TextStyle `json:"style,omitempty"`
	Columns []Column  `json:"columns,omitempty"`
	Lines   int       `json:"lines,omitempty"`
}

func Text(s string, style TextStyle) Primitive {
	return Primitive{Kind: KindText, Text: s, Style: style}
}

func Rule() Primitive { return Primitive{Kind: KindRule} }

func Row(cols ...Column) Primitive { return Primitive{Kind: KindTable, Columns: cols} }

func Feed(lines int) Primitive { return Primitive{Kind: KindFeed, Lines: lines} }

func Cut() Primitive { return Primitive{Kind: KindCut} }
