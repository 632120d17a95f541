package printer

import (
	"bytes"
	"image"
	"strings"
	"unicode/utf8"

	"github.com/Riboost-Studio/order-print-desk/internal/receipt"
)

// ESC/POS command bytes.
var (
	escInit       = []byte{0x1B, 0x40}
	escBoldOn     = []byte{0x1B, 0x45, 0x01}
	escBoldOff    = []byte{0x1B, 0x45, 0x00}
	escUnderOn    = []byte{0x1B, 0x2D, 0x01}
	escUnderOff   = []byte{0x1B, 0x2D, 0x00}
	escDoubleOn   = []byte{0x1D, 0x21, 0x11}
	escDoubleOff  = []byte{0x1D, 0x21, 0x00}
	escPartialCut = []byte{0x1D, 0x56, 0x41, 0x00}
)

func escAlign(a receipt.Align) []byte {
	switch a {
	case receipt.AlignCenter:
		return []byte{0x1B, 0x61, 0x01}
	case receipt.AlignRight:
		return []byte{0x1B, 0x61, 0x02}
	default:
		return []byte{0x1B, 0x61, 0x00}
	}
}

func escFeed(lines int) []byte {
	if lines < 0 {
		lines = 0
	}
	if lines > 255 {
		lines = 255
	}
	return []byte{0x1B, 0x64, byte(lines)}
}

// ColumnsForWidth is the Font A character count of a paper width.
func ColumnsForWidth(mm float64) int {
	if mm < 70 {
		return 32
	}
	return 48
}

// Encoder turns structured print primitives into an ESC/POS byte stream.
type Encoder struct {
	Columns int
}

func (e Encoder) Encode(prims []receipt.Primitive) []byte {
	cols := e.Columns
	if cols <= 0 {
		cols = 48
	}

	var buf bytes.Buffer
	buf.Write(escInit)

	for _, p := range prims {
		switch p.Kind {
		case receipt.KindText:
			width := cols
			buf.Write(escAlign(p.Style.Align))
			if p.Style.Bold {
				buf.Write(escBoldOn)
			}
			if p.Style.Underline {
				buf.Write(escUnderOn)
			}
			if p.Style.Double {
				buf.Write(escDoubleOn)
				width = cols / 2
			}
			for _, line := range wrap(toPrintable(p.Text), width) {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
			if p.Style.Double {
				buf.Write(escDoubleOff)
			}
			if p.Style.Underline {
				buf.Write(escUnderOff)
			}
			if p.Style.Bold {
				buf.Write(escBoldOff)
			}

		case receipt.KindRule:
			buf.Write(escAlign(receipt.AlignLeft))
			buf.WriteString(strings.Repeat("-", cols))
			buf.WriteByte('\n')

		case receipt.KindTable:
			buf.Write(escAlign(receipt.AlignLeft))
			widths := columnWidths(p.Columns, cols)
			for i, c := range p.Columns {
				if c.Bold {
					buf.Write(escBoldOn)
				}
				buf.WriteString(fit(toPrintable(c.Text), widths[i], c.Align))
				if c.Bold {
					buf.Write(escBoldOff)
				}
			}
			buf.WriteByte('\n')

		case receipt.KindFeed:
			buf.Write(escFeed(p.Lines))

		case receipt.KindCut:
			buf.Write(escPartialCut)
		}
	}
	return buf.Bytes()
}

// columnWidths splits cols characters by the column fractions; the last
// column absorbs rounding.
func columnWidths(columns []receipt.Column, cols int) []int {
	widths := make([]int, len(columns))
	used := 0
	for i, c := range columns {
		if i == len(columns)-1 {
			widths[i] = cols - used
			break
		}
		w := int(c.Width * float64(cols))
		if w < 1 {
			w = 1
		}
		widths[i] = w
		used += w
	}
	return widths
}

func fit(s string, width int, align receipt.Align) string {
	if width <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n > width {
		return string([]rune(s)[:width])
	}
	pad := strings.Repeat(" ", width-n)
	switch align {
	case receipt.AlignRight:
		return pad + s
	case receipt.AlignCenter:
		left := (width - n) / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
	default:
		return s + pad
	}
}

func wrap(s string, width int) []string {
	if width <= 0 || len(s) <= width {
		return []string{s}
	}
	var lines []string
	var line string
	for _, word := range strings.Fields(s) {
		for len(word) > width {
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= width:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// toPrintable maps text to the printer's single-byte code page.
func toPrintable(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || (r >= 0x20 && r < 0x7f):
			b.WriteRune(r)
		case r == '•':
			b.WriteByte('*')
		case r == '×':
			b.WriteByte('x')
		case r == '₹':
			b.WriteString("Rs.")
		case r == '€':
			b.WriteString("EUR")
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

// --- Raster images (markup receipts on network printers) ---

// RasterJob builds a complete print job from a rendered receipt image.
func RasterJob(img image.Image, width int) []byte {
	if width <= 0 {
		width = 576
	}
	img = resizeToWidth(img, width)

	var job []byte
	job = append(job, escInit...)
	job = append(job, convertImageToESCPOS(img)...)
	job = append(job, escFeed(3)...)
	job = append(job, escPartialCut...)
	return job
}

// convertImageToESCPOS thresholds img to 1 bit and wraps it in GS v 0.
func convertImageToESCPOS(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// ESC/POS width must be divisible by 8
	width -= width % 8

	rowBytes := width / 8
	raster := make([]byte, rowBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray := (r + g + b) / 3
			if gray < 0x8000 {
				raster[y*rowBytes+x/8] |= 1 << (7 - x%8)
			}
		}
	}

	header := []byte{
		0x1D, 0x76, 0x30, 0x00,
		byte(rowBytes), byte(rowBytes >> 8),
		byte(height), byte(height >> 8),
	}
	return append(header, raster...)
}

func resizeToWidth(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || w == targetWidth {
		return src
	}

	scale := float64(targetWidth) / float64(w)
	newHeight := int(float64(h) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, newHeight))
	for y := 0; y < newHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			sx := bounds.Min.X + int(float64(x)/scale)
			sy := bounds.Min.Y + int(float64(y)/scale)
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
