package printer

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/receipt"
)

const (
	mmPerInch     = 25.4
	cssPxPerInch  = 96.0
	paperHeightMM = 297.0
)

// Renderer turns a receipt document into a Surface that can produce print
// output. Every opened Surface must be closed.
type Renderer interface {
	Open(ctx context.Context, doc receipt.Document) (Surface, error)
}

// Surface is a rendered receipt.
type Surface interface {
	PDF(ctx context.Context) ([]byte, error)
	Job(ctx context.Context, dev Device) (Job, error)
	Close() error
}

// --- Markup documents: headless Chrome ---

// ChromeRenderer lays out HTML receipts in a hidden headless browser tab.
type ChromeRenderer struct {
	ExecPath string
	Logger   *logrus.Logger
}

func (r *ChromeRenderer) Open(ctx context.Context, doc receipt.Document) (Surface, error) {
	if doc.Mode != model.ReceiptModeMarkup {
		return nil, fmt.Errorf("%w: chrome renderer cannot open %s documents", model.ErrPrint, doc.Mode)
	}

	widthPx := int(doc.WidthMM / mmPerInch * cssPxPerInch)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(widthPx, 600),
	)
	if r.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.ExecPath), chromedp.Flag("no-sandbox", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromeSurface{
		ctx:    tabCtx,
		cancel: func() { tabCancel(); allocCancel() },
		doc:    doc,
	}

	err := chromedp.Run(tabCtx,
		// Load HTML directly using data URL
		chromedp.Navigate("data:text/html;charset=utf-8,"+urlEncode(doc.HTML)),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to load receipt into browser: %v", model.ErrPrint, err)
	}

	if r.Logger != nil {
		r.Logger.WithField("order_id", doc.OrderID).Debug("Receipt loaded into hidden browser tab")
	}
	return s, nil
}

type chromeSurface struct {
	ctx    context.Context
	cancel func()
	doc    receipt.Document
	once   sync.Once
}

func (s *chromeSurface) PDF(ctx context.Context) ([]byte, error) {
	var pdf []byte
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(s.doc.WidthMM / mmPerInch).
			WithPaperHeight(paperHeightMM / mmPerInch).
			WithMarginTop(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithMarginRight(0).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed generating pdf: %w", err)
	}
	return pdf, nil
}

func (s *chromeSurface) Job(ctx context.Context, dev Device) (Job, error) {
	if dev.Kind != DeviceNetwork {
		data, err := s.PDF(ctx)
		if err != nil {
			return Job{}, err
		}
		return Job{Title: s.doc.OrderID, Format: FormatPDF, Data: data}, nil
	}

	var shot []byte
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, err := page.CaptureScreenshot().
			WithCaptureBeyondViewport(true). // capture full height
			Do(ctx)
		if err != nil {
			return err
		}
		shot = buf
		return nil
	}))
	if err != nil {
		return Job{}, fmt.Errorf("failed generating image: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return Job{}, fmt.Errorf("failed to decode PNG: %w", err)
	}
	return Job{Title: s.doc.OrderID, Format: FormatRaw, Data: RasterJob(img, dev.Dots)}, nil
}

func (s *chromeSurface) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Helper for encoding HTML into a data URL
func urlEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// --- Structured documents: gofpdf and ESC/POS ---

// PrimitiveRenderer renders structured documents without a browser.
type PrimitiveRenderer struct{}

func (PrimitiveRenderer) Open(_ context.Context, doc receipt.Document) (Surface, error) {
	if doc.Mode != model.ReceiptModeStructured {
		return nil, fmt.Errorf("%w: primitive renderer cannot open %s documents", model.ErrPrint, doc.Mode)
	}
	return &primitiveSurface{doc: doc}, nil
}

type primitiveSurface struct {
	doc receipt.Document
}

func (s *primitiveSurface) PDF(context.Context) ([]byte, error) {
	return renderPrimitivesPDF(s.doc)
}

func (s *primitiveSurface) Job(_ context.Context, dev Device) (Job, error) {
	enc := Encoder{Columns: ColumnsForWidth(s.doc.WidthMM)}
	return Job{Title: s.doc.OrderID, Format: FormatRaw, Data: enc.Encode(s.doc.Primitives)}, nil
}

func (s *primitiveSurface) Close() error { return nil }

const (
	pdfMargin   = 3.0
	pdfLineH    = 4.2
	pdfFontSize = 9.0
)

func renderPrimitivesPDF(doc receipt.Document) ([]byte, error) {
	width := doc.WidthMM
	if width <= 0 {
		width = 80
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: width, Ht: estimateHeight(doc.Primitives)},
	})
	pdf.SetTitle("Order "+doc.OrderID, true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	inner := width - 2*pdfMargin

	for _, p := range doc.Primitives {
		switch p.Kind {
		case receipt.KindText:
			style := ""
			if p.Style.Bold {
				style += "B"
			}
			if p.Style.Underline {
				style += "U"
			}
			size, lineH := pdfFontSize, pdfLineH
			if p.Style.Double {
				size, lineH = pdfFontSize*1.6, pdfLineH*1.6
			}
			pdf.SetFont("Courier", style, size)
			pdf.MultiCell(inner, lineH, tr(p.Text), "", pdfAlign(p.Style.Align), false)

		case receipt.KindRule:
			y := pdf.GetY() + pdfLineH/2
			pdf.SetDashPattern([]float64{0.8, 0.8}, 0)
			pdf.Line(pdfMargin, y, width-pdfMargin, y)
			pdf.SetDashPattern([]float64{}, 0)
			pdf.Ln(pdfLineH)

		case receipt.KindTable:
			for _, c := range p.Columns {
				style := ""
				if c.Bold {
					style = "B"
				}
				pdf.SetFont("Courier", style, pdfFontSize)
				pdf.CellFormat(inner*c.Width, pdfLineH, tr(c.Text), "", 0, pdfAlign(c.Align), false, 0, "")
			}
			pdf.Ln(pdfLineH)

		case receipt.KindFeed:
			pdf.Ln(pdfLineH * float64(p.Lines))

		case receipt.KindCut:
			pdf.Ln(pdfLineH)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed generating pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// estimateHeight sizes the page so a typical receipt fits on one roll page.
func estimateHeight(prims []receipt.Primitive) float64 {
	h := 2*pdfMargin + 10
	for _, p := range prims {
		switch p.Kind {
		case receipt.KindText:
			lines := 1 + len(p.Text)/40
			if p.Style.Double {
				h += float64(lines) * pdfLineH * 1.6
			} else {
				h += float64(lines) * pdfLineH
			}
		case receipt.KindFeed:
			h += float64(p.Lines) * pdfLineH
		default:
			h += pdfLineH
		}
	}
	if h < 60 {
		h = 60
	}
	return h
}

func pdfAlign(a receipt.Align) string {
	switch a {
	case receipt.AlignCenter:
		return "C"
	case receipt.AlignRight:
		return "R"
	default:
		return "L"
	}
}
