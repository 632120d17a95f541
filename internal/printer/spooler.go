package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

// DeviceKind tells how a job reaches the printer.
type DeviceKind string

const (
	// DeviceSystem is a queue of the OS print system (CUPS).
	DeviceSystem DeviceKind = "system"
	// DeviceNetwork is an ESC/POS printer reached over raw TCP.
	DeviceNetwork DeviceKind = "network"
)

// Device is one printer visible to the agent.
type Device struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	Description string     `json:"description"`
	Status      string     `json:"status,omitempty"`
	IsDefault   bool       `json:"isDefault"`
	Kind        DeviceKind `json:"kind"`
	Address     string     `json:"address,omitempty"`
	Dots        int        `json:"-"`
}

// JobFormat is the payload type of a Job.
type JobFormat int

const (
	FormatPDF JobFormat = iota
	FormatRaw
)

type Job struct {
	Title  string
	Format JobFormat
	Data   []byte
}

// Spooler lists printers and delivers jobs to them.
type Spooler interface {
	Printers(ctx context.Context) ([]Device, error)
	Resolve(ctx context.Context, name string) (Device, error)
	Submit(ctx context.Context, dev Device, job Job) error
}

// --- CUPS ---

// Runner executes a command with stdin and returns stdout and stderr.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CUPS talks to the local print system through lpstat and lp.
type CUPS struct {
	run Runner
}

func NewCUPS(run Runner) *CUPS {
	if run == nil {
		run = execRunner
	}
	return &CUPS{run: run}
}

func (c *CUPS) Printers(ctx context.Context) ([]Device, error) {
	out, stderr, err := c.run(ctx, nil, "lpstat", "-p")
	if err != nil {
		// lpstat exits non-zero when no destinations exist
		if len(bytes.TrimSpace(out)) == 0 && bytes.Contains(stderr, []byte("No destinations")) {
			return []Device{}, nil
		}
		return nil, fmt.Errorf("%w: %s", model.ErrPrint, commandMessage(stderr, err))
	}

	devices := parseLpstatPrinters(string(out))

	// the default destination is optional
	if defOut, _, err := c.run(ctx, nil, "lpstat", "-d"); err == nil {
		if def := parseLpstatDefault(string(defOut)); def != "" {
			for i := range devices {
				devices[i].IsDefault = devices[i].Name == def
			}
		}
	}
	return devices, nil
}

func (c *CUPS) Submit(ctx context.Context, dev Device, job Job) error {
	args := []string{"-d", dev.Name}
	if job.Title != "" {
		args = append(args, "-t", job.Title)
	}
	if job.Format == FormatRaw {
		args = append(args, "-o", "raw")
	}

	_, stderr, err := c.run(ctx, job.Data, "lp", args...)
	if err != nil {
		return model.NewError(model.ErrPrint, commandMessage(stderr, err))
	}
	return nil
}

// parseLpstatPrinters reads lines like
// "printer Kitchen is idle.  enabled since Fri 16 Oct 2026 09:00:00".
func parseLpstatPrinters(out string) []Device {
	devices := []Device{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "printer" {
			continue
		}
		name := fields[1]
		status := strings.TrimSuffix(strings.Join(fields[2:], " "), ".")
		if i := strings.Index(status, "."); i >= 0 {
			status = status[:i]
		}
		status = strings.TrimPrefix(status, "is ")
		if strings.HasPrefix(status, "disabled") {
			status = "disabled"
		}
		devices = append(devices, Device{
			Name:        name,
			DisplayName: strings.ReplaceAll(name, "_", " "),
			Status:      status,
			Kind:        DeviceSystem,
		})
	}
	return devices
}

func parseLpstatDefault(out string) string {
	line := strings.TrimSpace(out)
	if i := strings.LastIndex(line, ":"); i >= 0 && strings.HasPrefix(line, "system default destination") {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}

// commandMessage prefers the tool's own stderr text.
func commandMessage(stderr []byte, err error) string {
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return msg
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	return err.Error()
}

// --- Network (raw TCP, port 9100) ---

// SendRaw writes data to addr and gives the printer a moment to drain it.
func SendRaw(ctx context.Context, addr string, data []byte, timeout, settle time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return model.NewError(model.ErrPrint, fmt.Sprintf("connection failed: %v", err))
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(data); err != nil {
		return model.NewError(model.ErrPrint, fmt.Sprintf("write failed: %v", err))
	}

	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
		}
	}
	return nil
}

// --- Combined system + network spooler ---

type SystemSpoolerOption func(*SystemSpooler)

func WithRunner(run Runner) SystemSpoolerOption {
	return func(s *SystemSpooler) { s.cups = NewCUPS(run) }
}

func WithSettle(d time.Duration) SystemSpoolerOption {
	return func(s *SystemSpooler) { s.settle = d }
}

// SystemSpooler serves OS print queues and the network printers stored in
// printers.json under one namespace. Network names win on collision.
type SystemSpooler struct {
	cups         *CUPS
	printersFile string
	dialTimeout  time.Duration
	settle       time.Duration
	logger       *logrus.Logger
}

func NewSystemSpooler(printersFile string, logger *logrus.Logger, opts ...SystemSpoolerOption) *SystemSpooler {
	s := &SystemSpooler{
		cups:         NewCUPS(nil),
		printersFile: printersFile,
		dialTimeout:  5 * time.Second,
		settle:       500 * time.Millisecond,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SystemSpooler) network() []model.Printer {
	printers, err := utils.LoadPrinters(s.printersFile)
	if err != nil {
		s.logger.WithError(err).WithField("path", s.printersFile).Warn("Error loading network printers")
		return nil
	}
	enabled := printers[:0]
	for _, p := range printers {
		if p.IsEnabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func networkDevice(p model.Printer) Device {
	port := p.Port
	if port == 0 {
		port = 9100
	}
	return Device{
		Name:        p.Name,
		DisplayName: p.Name,
		Description: p.Description,
		Kind:        DeviceNetwork,
		Address:     net.JoinHostPort(p.IP, strconv.Itoa(port)),
		Dots:        p.Size,
	}
}

func (s *SystemSpooler) Printers(ctx context.Context) ([]Device, error) {
	var devices []Device
	seen := map[string]bool{}
	for _, p := range s.network() {
		devices = append(devices, networkDevice(p))
		seen[p.Name] = true
	}

	system, err := s.cups.Printers(ctx)
	if err != nil {
		if len(devices) == 0 {
			return nil, err
		}
		s.logger.WithError(err).Warn("Error listing system printers")
	}
	for _, d := range system {
		if !seen[d.Name] {
			devices = append(devices, d)
		}
	}
	if devices == nil {
		devices = []Device{}
	}
	return devices, nil
}

// Resolve maps a configured printer name to a device. Unknown names are
// treated as system queues and fail at submit time.
func (s *SystemSpooler) Resolve(_ context.Context, name string) (Device, error) {
	if name == "" {
		return Device{}, model.ErrNoPrinter
	}
	for _, p := range s.network() {
		if p.Name == name {
			return networkDevice(p), nil
		}
	}
	return Device{Name: name, DisplayName: name, Kind: DeviceSystem}, nil
}

func (s *SystemSpooler) Submit(ctx context.Context, dev Device, job Job) error {
	log := s.logger.WithFields(logrus.Fields{
		"printer": dev.Name,
		"bytes":   len(job.Data),
	})

	if dev.Kind == DeviceNetwork {
		if job.Format != FormatRaw {
			return model.NewError(model.ErrPrint, fmt.Sprintf("printer %s accepts raw ESC/POS jobs only", dev.Name))
		}
		log.WithField("address", dev.Address).Debug("Sending job to network printer")
		return SendRaw(ctx, dev.Address, job.Data, s.dialTimeout, s.settle)
	}

	log.Debug("Submitting job to print system")
	return s.cups.Submit(ctx, dev, job)
}
