// Package receipt turns an order into a printable document.
package receipt

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

//go:embed templates/order.html
var templatesFS embed.FS

const defaultTemplate = "order.html"

type Options struct {
	Mode           model.ReceiptMode
	RestaurantName string
	Currency       string
	Copies         int
	PaperWidthMM   float64
	Location       *time.Location
	// TemplateFile overrides the embedded markup template.
	TemplateFile string
}

type Formatter struct {
	opts Options
	tmpl *template.Template
}

func New(opts Options) (*Formatter, error) {
	if opts.Mode == "" {
		opts.Mode = model.ReceiptModeMarkup
	}
	if opts.PaperWidthMM <= 0 {
		opts.PaperWidthMM = 80
	}
	if opts.Copies < 1 {
		opts.Copies = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	f := &Formatter{opts: opts}

	var err error
	if opts.TemplateFile != "" {
		f.tmpl, err = template.New(filepath.Base(opts.TemplateFile)).Funcs(f.templateFuncs()).ParseFiles(opts.TemplateFile)
	} else {
		f.tmpl, err = template.New(defaultTemplate).Funcs(f.templateFuncs()).ParseFS(templatesFS, "templates/"+defaultTemplate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return f, nil
}

// Format renders order with the configured mode.
func (f *Formatter) Format(order model.Order) (Document, error) {
	return f.FormatAs(f.opts.Mode, order)
}

func (f *Formatter) FormatAs(mode model.ReceiptMode, order model.Order) (Document, error) {
	doc := Document{
		Mode:    mode,
		OrderID: order.Code(),
		WidthMM: f.opts.PaperWidthMM,
	}

	switch mode {
	case model.ReceiptModeMarkup:
		html, err := f.markup(order)
		if err != nil {
			return Document{}, err
		}
		doc.HTML = html
	case model.ReceiptModeStructured:
		doc.Primitives = f.structured(order)
	default:
		return Document{}, fmt.Errorf("unknown receipt mode %q", mode)
	}
	return doc, nil
}

// Helper functions for the template (money, dates, labels)
func (f *Formatter) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatMoney": model.FormatMoney,
		"formatDate":  f.formatDate,
		"upper": func(v any) string {
			return strings.ToUpper(fmt.Sprint(v))
		},
	}
}

// formatDate renders an ISO timestamp in local time, or returns it unchanged
// when it does not parse.
func (f *Formatter) formatDate(dateStr string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t.In(f.opts.Location).Format("02/01/2006 15:04")
		}
	}
	return dateStr
}

type markupView struct {
	Restaurant  string
	Currency    string
	BodyWidthMM float64
	Copies      []copyView
}

type copyView struct {
	Label string
	Token int
	Break bool
	Order model.Order
}

var copyLabels = []string{"CUSTOMER COPY", "RESTAURANT COPY"}

func (f *Formatter) copies(order model.Order) []copyView {
	if f.opts.Copies == 1 {
		return []copyView{{Token: order.Token, Order: order}}
	}
	out := make([]copyView, 0, f.opts.Copies)
	for i := 0; i < f.opts.Copies; i++ {
		out = append(out, copyView{
			Label: copyLabels[i%len(copyLabels)],
			Token: order.Token,
			Break: i < f.opts.Copies-1,
			Order: order,
		})
	}
	return out
}

func (f *Formatter) markup(order model.Order) (string, error) {
	view := markupView{
		Restaurant:  f.opts.RestaurantName,
		Currency:    f.opts.Currency,
		BodyWidthMM: f.opts.PaperWidthMM - 10,
		Copies:      f.copies(order),
	}

	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func (f *Formatter) structured(order model.Order) []Primitive {
	currency := plainCurrency(f.opts.Currency)
	money := func(d decimal.Decimal) string { return currency + model.FormatMoney(d) }
	center := TextStyle{Align: AlignCenter}

	var out []Primitive
	for _, c := range f.copies(order) {
		out = append(out,
			Text(f.opts.RestaurantName, TextStyle{Bold: true, Double: true, Align: AlignCenter}),
			Text("Order Receipt", center),
		)
		if c.Label != "" {
			out = append(out, Text(c.Label, TextStyle{Bold: true, Align: AlignCenter}))
		}
		if c.Token > 0 {
			out = append(out, Text(fmt.Sprintf("TOKEN #%d", c.Token), TextStyle{Bold: true, Double: true, Align: AlignCenter}))
		}
		out = append(out, Rule())

		email := order.CustomerEmail
		if email == "" {
			email = "N/A"
		}
		for _, line := range []string{
			"Order ID: " + order.Code(),
			"Date: " + f.formatDate(order.CreatedAt),
			"Type: " + strings.ToUpper(string(order.OrderType)),
			"Status: " + strings.ToUpper(string(order.Status)),
			"Customer: " + order.CustomerName,
			"Email: " + email,
		} {
			out = append(out, Text(line, TextStyle{}))
		}
		out = append(out, Rule(), Text("ORDER ITEMS:", TextStyle{Bold: true}))

		for _, item := range order.Items {
			out = append(out,
				Row(
					Column{Text: item.ProductConfig.Name, Width: 0.7, Bold: true},
					Column{Text: money(item.TotalPrice), Width: 0.3, Align: AlignRight},
				),
				Text(fmt.Sprintf("  %d x %s", item.Quantity, money(item.UnitPrice())), TextStyle{}),
			)
			for _, cust := range item.ProductConfig.CustomizationList() {
				out = append(out, Text(fmt.Sprintf("  - %s: %s", cust.Label, cust.Value), TextStyle{}))
			}
		}

		out = append(out,
			Rule(),
			Row(
				Column{Text: "TOTAL:", Width: 0.5, Bold: true},
				Column{Text: money(order.TotalAmount), Width: 0.5, Align: AlignRight, Bold: true},
			),
			Feed(1),
			Text("Thank you for your order!", center),
			Text("Visit us again soon!", center),
			Feed(3),
			Cut(),
		)
	}
	return out
}

// plainCurrency maps a currency symbol to text a printer code page can
// represent.
func plainCurrency(symbol string) string {
	switch symbol {
	case "₹":
		return "Rs."
	case "€":
		return "EUR "
	case "£":
		return "GBP "
	}
	for _, r := range symbol {
		if r > 0x7e {
			return ""
		}
	}
	return symbol
}
