package model

import (
	"fmt"
	"strings"
)

// --- Configuration Structures ---

// Config holds the agent settings resolved at startup from the environment,
// .env or agent.json.
type Config struct {
	SupabaseURL     string      `json:"supabaseUrl"`
	SupabaseAnonKey string      `json:"supabaseAnonKey"`
	DataDir         string      `json:"-"`
	DashboardAddr   string      `json:"dashboardAddr,omitempty"`
	RestaurantName  string      `json:"restaurantName,omitempty"`
	CurrencySymbol  string      `json:"currencySymbol,omitempty"`
	ReceiptMode     ReceiptMode `json:"receiptMode,omitempty"`
	PrintPolicy     PrintPolicy `json:"printPolicy,omitempty"`
	ReceiptCopies   int         `json:"receiptCopies,omitempty"`
	PaperWidthMM    float64     `json:"paperWidthMm,omitempty"`
	LogLevel        string      `json:"logLevel,omitempty"`
}

// PrinterConfig is the content of printer-config.json. A nil PrinterName
// means no printer is configured and receipts fall back to PDF.
type PrinterConfig struct {
	PrinterName *string `json:"printerName"`
	PDFSavePath string  `json:"pdfSavePath"`
}

// Printer returns the configured device name, or "" when none is set.
func (c PrinterConfig) Printer() string {
	if c.PrinterName == nil {
		return ""
	}
	return strings.TrimSpace(*c.PrinterName)
}

// Printer is a network ESC/POS printer stored in printers.json.
type Printer struct {
	Name        string `json:"name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Description string `json:"description"`
	IsEnabled   bool   `json:"isEnabled"`
	Size        int    `json:"size,omitempty"` // raster width in dots
}

// ReceiptMode selects the receipt formatter strategy.
type ReceiptMode string

const (
	ReceiptModeMarkup     ReceiptMode = "markup"
	ReceiptModeStructured ReceiptMode = "structured"
)

func ParseReceiptMode(s string) (ReceiptMode, error) {
	switch ReceiptMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReceiptModeMarkup:
		return ReceiptModeMarkup, nil
	case ReceiptModeStructured:
		return ReceiptModeStructured, nil
	default:
		return "", fmt.Errorf("unknown receipt mode %q", s)
	}
}

// PrintPolicy decides what happens when no printer is configured.
type PrintPolicy string

const (
	// PolicyPDFFallback saves the receipt as a PDF file.
	PolicyPDFFallback PrintPolicy = "pdf-fallback"
	// PolicyRequirePrinter reports ErrNoPrinter instead.
	PolicyRequirePrinter PrintPolicy = "require-printer"
)

func ParsePrintPolicy(s string) (PrintPolicy, error) {
	switch PrintPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPDFFallback:
		return PolicyPDFFallback, nil
	case PolicyRequirePrinter:
		return PolicyRequirePrinter, nil
	default:
		return "", fmt.Errorf("unknown print policy %q", s)
	}
}
