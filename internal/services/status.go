package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

type StatusLevel string

const (
	StatusEnabled  StatusLevel = "enabled"
	StatusWarning  StatusLevel = "warning"
	StatusPrinted  StatusLevel = "printed"
	StatusPDFSaved StatusLevel = "pdf_saved"
	StatusError    StatusLevel = "error"
)

// Status is the dashboard banner.
type Status struct {
	Level   StatusLevel `json:"level"`
	Message string      `json:"message"`
	OrderID string      `json:"orderId,omitempty"`
}

// Banner holds the latest print outcome and falls back to the general
// printer status after a fixed delay.
type Banner struct {
	publish func(model.MessageType, any)
	printer func() string
	policy  model.PrintPolicy
	revert  time.Duration

	mu      sync.Mutex
	current Status
	timer   *time.Timer
	gen     int
}

func NewBanner(publish func(model.MessageType, any), printer func() string, policy model.PrintPolicy, revert time.Duration) *Banner {
	b := &Banner{publish: publish, printer: printer, policy: policy, revert: revert}
	b.current = b.idle()
	return b
}

func (b *Banner) idle() Status {
	if name := b.printer(); name != "" {
		return Status{Level: StatusEnabled, Message: "Auto-print is ENABLED: " + name}
	}
	if b.policy == model.PolicyRequirePrinter {
		return Status{Level: StatusWarning, Message: "WARNING: Printer not set. New orders will NOT be printed until a printer is selected."}
	}
	return Status{Level: StatusWarning, Message: "WARNING: Printer not set. New orders will be AUTO-SAVED as PDF."}
}

func (b *Banner) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Refresh shows the general printer status now.
func (b *Banner) Refresh() {
	b.mu.Lock()
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.current = b.idle()
	s := b.current
	b.mu.Unlock()
	b.publish(model.MessageTypeStatus, s)
}

// Report shows the outcome of one dispatch and schedules the revert.
func (b *Banner) Report(orderCode string, res model.PrintResult, manual bool) Status {
	s := Status{OrderID: orderCode}
	switch {
	case res.Success && res.Printed:
		s.Level = StatusPrinted
		verb := "printed"
		if manual {
			verb = "re-printed"
		}
		s.Message = fmt.Sprintf("Order #%s successfully %s to %s!", orderCode, verb, b.printer())
	case res.Success && res.PDFSaved:
		s.Level = StatusPDFSaved
		verb := "saved"
		if manual {
			verb = "re-saved"
		}
		s.Message = fmt.Sprintf("Order #%s %s as PDF (no printer set).", orderCode, verb)
	default:
		s.Level = StatusError
		prefix := "Print/Save Error"
		if manual {
			prefix = "Re-print Error"
		}
		s.Message = fmt.Sprintf("%s for #%s: %s. Check setup.", prefix, orderCode, res.Error)
	}

	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.current = s
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.revert, func() { b.expire(gen) })
	b.mu.Unlock()

	b.publish(model.MessageTypeStatus, s)
	return s
}

func (b *Banner) expire(gen int) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.current = b.idle()
	s := b.current
	b.mu.Unlock()
	b.publish(model.MessageTypeStatus, s)
}

// Stop cancels a pending revert.
func (b *Banner) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
