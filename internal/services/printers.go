package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Riboost-Studio/order-print-desk/internal/printer"
)

// --- Printer settings boundary ---

type SaveSettingRequest struct {
	PrinterName *string `json:"printerName"`
	Path        string  `json:"path"`
}

type SaveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// GetPrinters lists the devices receipts can be sent to. Listing failures
// yield an empty list.
func (a *App) GetPrinters(ctx context.Context) []printer.Device {
	devices, err := a.Spooler.Printers(ctx)
	if err != nil {
		a.Logger.WithError(err).Error("Error listing printers")
		return []printer.Device{}
	}
	a.Logger.WithField("count", len(devices)).Debug("Found printers")
	return devices
}

func (a *App) GetSavedPrinterName() *string {
	name := a.printerName()
	if name == "" {
		return nil
	}
	return &name
}

func (a *App) GetPdfSavePath() string {
	return a.PrinterConfig().PDFSavePath
}

// SaveSetting persists the printer selection. The in-memory config only
// changes when the file was written.
func (a *App) SaveSetting(req SaveSettingRequest) SaveResult {
	cfg := a.PrinterConfig()
	cfg.PrinterName = nil
	if req.PrinterName != nil {
		if name := strings.TrimSpace(*req.PrinterName); name != "" {
			cfg.PrinterName = &name
		}
	}
	if p := strings.TrimSpace(req.Path); p != "" {
		cfg.PDFSavePath = filepath.Clean(p)
	}

	if err := a.Store.Save(cfg); err != nil {
		a.Logger.WithError(err).Error("Failed to save printer config")
		return SaveResult{Error: err.Error()}
	}

	a.mu.Lock()
	a.printerCfg = cfg
	a.mu.Unlock()
	a.banner.Refresh()
	return SaveResult{Success: true}
}

// SelectDirectory asks the operator for a folder; nil means cancelled.
func (a *App) SelectDirectory(ctx context.Context) *string {
	if a.Chooser == nil {
		return nil
	}
	dir, ok, err := a.Chooser.ChooseDirectory(ctx, a.GetPdfSavePath())
	if err != nil {
		a.Logger.WithError(err).Warn("Directory selection failed")
		return nil
	}
	if !ok {
		return nil
	}
	return &dir
}

// --- Directory chooser ---

type DirectoryChooser interface {
	ChooseDirectory(ctx context.Context, start string) (dir string, ok bool, err error)
}

// DialogChooser opens a native folder dialog through zenity and falls back
// to a prompt on In/Out when zenity is missing.
type DialogChooser struct {
	In  io.Reader
	Out io.Writer
	Run printer.Runner
}

func (c DialogChooser) ChooseDirectory(ctx context.Context, start string) (string, bool, error) {
	if c.Run != nil {
		return c.zenity(ctx, start)
	}
	if _, err := exec.LookPath("zenity"); err == nil {
		return c.zenity(ctx, start)
	}
	return c.prompt(start)
}

func (c DialogChooser) zenity(ctx context.Context, start string) (string, bool, error) {
	run := c.Run
	if run == nil {
		run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			out, err := cmd.Output()
			return out, nil, err
		}
	}

	args := []string{"--file-selection", "--directory", "--title=Select PDF folder"}
	if start != "" {
		args = append(args, "--filename="+strings.TrimRight(start, string(filepath.Separator))+string(filepath.Separator))
	}
	out, _, err := run(ctx, nil, "zenity", args...)
	if err != nil {
		// zenity exits 1 on cancel
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("zenity: %w", err)
	}
	dir := strings.TrimSpace(string(out))
	return dir, dir != "", nil
}

func (c DialogChooser) prompt(start string) (string, bool, error) {
	if c.In == nil || c.Out == nil {
		return "", false, nil
	}
	fmt.Fprintf(c.Out, "PDF folder [%s] (empty to cancel): ", start)
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	dir := strings.TrimSpace(line)
	if dir == "" {
		return "", false, nil
	}
	return filepath.Clean(dir), true, nil
}
