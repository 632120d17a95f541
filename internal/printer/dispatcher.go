package printer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/receipt"
)

// ConfigSource returns the printer configuration in effect right now.
type ConfigSource func() model.PrinterConfig

// Dispatcher sends a formatted receipt to the configured printer, or saves
// it as a PDF when no printer is set and the policy allows it.
type Dispatcher struct {
	config    ConfigSource
	policy    model.PrintPolicy
	renderers map[model.ReceiptMode]Renderer
	spooler   Spooler
	logger    *logrus.Logger
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithPolicy(p model.PrintPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

func WithRenderer(mode model.ReceiptMode, r Renderer) DispatcherOption {
	return func(d *Dispatcher) { d.renderers[mode] = r }
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(config ConfigSource, spooler Spooler, logger *logrus.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		config:  config,
		policy:  model.PolicyPDFFallback,
		spooler: spooler,
		logger:  logger,
		now:     time.Now,
		renderers: map[model.ReceiptMode]Renderer{
			model.ReceiptModeMarkup:     &ChromeRenderer{Logger: logger},
			model.ReceiptModeStructured: PrimitiveRenderer{},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch renders doc and either prints it or saves it as a PDF. The
// outcome is always reported in the result, never as a panic or a second
// return value.
func (d *Dispatcher) Dispatch(ctx context.Context, doc receipt.Document, orderID string) model.PrintResult {
	jobID := model.JobID(ctx)
	if jobID == "" {
		jobID = uuid.NewString()
		ctx = model.WithJobID(ctx, jobID)
	}
	cfg := d.config()
	log := d.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"order_id": orderID,
		"printer":  cfg.Printer(),
		"trigger":  model.Trigger(ctx),
	})

	if cfg.Printer() == "" && d.policy == model.PolicyRequirePrinter {
		log.Warn("No printer configured, receipt not printed")
		return failure(model.ErrNoPrinter)
	}

	renderer, ok := d.renderers[doc.Mode]
	if !ok {
		return failure(fmt.Errorf("%w: no renderer for %q receipts", model.ErrPrint, doc.Mode))
	}

	surface, err := renderer.Open(ctx, doc)
	if err != nil {
		log.WithError(err).Error("Failed to render receipt")
		return failure(err)
	}
	defer func() {
		if err := surface.Close(); err != nil {
			log.WithError(err).Warn("Failed to release render surface")
		}
	}()

	if cfg.Printer() == "" {
		return d.savePDF(ctx, surface, cfg.PDFSavePath, orderID, log)
	}
	return d.print(ctx, surface, cfg.Printer(), log)
}

func (d *Dispatcher) print(ctx context.Context, surface Surface, name string, log *logrus.Entry) model.PrintResult {
	dev, err := d.spooler.Resolve(ctx, name)
	if err != nil {
		log.WithError(err).Error("Failed to resolve printer")
		return failure(asPrintErr(err))
	}

	job, err := surface.Job(ctx, dev)
	if err != nil {
		log.WithError(err).Error("Failed to build print job")
		return failure(asPrintErr(err))
	}

	if err := d.spooler.Submit(ctx, dev, job); err != nil {
		log.WithError(err).Error("Print job failed")
		return failure(asPrintErr(err))
	}

	log.Info("Receipt printed")
	return model.PrintResult{Success: true, Printed: true}
}

func (d *Dispatcher) savePDF(ctx context.Context, surface Surface, dir, orderID string, log *logrus.Entry) model.PrintResult {
	data, err := surface.PDF(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to generate PDF")
		return failure(asPrintErr(err))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).WithField("path", dir).Error("Failed to create PDF directory")
		return failure(model.NewError(model.ErrFilesystem, err.Error()))
	}

	path := filepath.Join(dir, PDFFileName(orderID, d.now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to save PDF")
		return failure(model.NewError(model.ErrFilesystem, err.Error()))
	}

	log.WithField("path", path).Info("Receipt saved as PDF")
	return model.PrintResult{Success: true, PDFSaved: true, FilePath: path}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PDFFileName is order_<id>_<unix millis>.pdf with the id made path-safe.
func PDFFileName(orderID string, at time.Time) string {
	id := unsafeFileChars.ReplaceAllString(orderID, "_")
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("order_%s_%d.pdf", id, at.UnixMilli())
}

func failure(err error) model.PrintResult {
	return model.PrintResult{Success: false, Error: err.Error(), Err: err}
}

func asPrintErr(err error) error {
	if errors.Is(err, model.ErrPrint) || errors.Is(err, model.ErrNoPrinter) || errors.Is(err, model.ErrFilesystem) {
		return err
	}
	return model.NewError(model.ErrPrint, err.Error())
}
