package printer

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

const lpstatOutput = `printer Kitchen_Thermal is idle.  enabled since Fri 16 Oct 2026 09:00:00 AM IST
printer Office disabled since Thu 15 Oct 2026 18:12:01 PM IST -
	reason unknown
`

type call struct {
	name  string
	args  []string
	stdin []byte
}

type fakeRunner struct {
	calls []call
	fn    func(name string, args []string) ([]byte, []byte, error)
}

func (f *fakeRunner) run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args, stdin: stdin})
	return f.fn(name, args)
}

func TestCUPSPrinters(t *testing.T) {
	r := &fakeRunner{fn: func(name string, args []string) ([]byte, []byte, error) {
		if args[0] == "-d" {
			return []byte("system default destination: Kitchen_Thermal\n"), nil, nil
		}
		return []byte(lpstatOutput), nil, nil
	}}

	devices, err := NewCUPS(r.run).Printers(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "Kitchen_Thermal", devices[0].Name)
	assert.Equal(t, "Kitchen Thermal", devices[0].DisplayName)
	assert.Equal(t, "idle", devices[0].Status)
	assert.True(t, devices[0].IsDefault)

	assert.Equal(t, "Office", devices[1].Name)
	assert.Equal(t, "disabled", devices[1].Status)
	assert.False(t, devices[1].IsDefault)
}

func TestCUPSNoDestinations(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("lpstat: No destinations added.\n"), errors.New("exit status 1")
	}}

	devices, err := NewCUPS(r.run).Printers(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
}

func TestCUPSSubmit(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return []byte("request id is Kitchen-12 (1 file(s))\n"), nil, nil
	}}
	c := NewCUPS(r.run)

	err := c.Submit(context.Background(), Device{Name: "Kitchen"}, Job{Title: "ORD-1", Format: FormatRaw, Data: []byte("raw")})
	require.NoError(t, err)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "lp", r.calls[0].name)
	assert.Equal(t, []string{"-d", "Kitchen", "-t", "ORD-1", "-o", "raw"}, r.calls[0].args)
	assert.Equal(t, []byte("raw"), r.calls[0].stdin)
}

func TestCUPSSubmitSurfacesStderr(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("lp: The printer or class does not exist.\n"), errors.New("exit status 1")
	}}

	err := NewCUPS(r.run).Submit(context.Background(), Device{Name: "Nope"}, Job{Format: FormatPDF, Data: []byte("%PDF")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPrint))
	assert.Equal(t, "lp: The printer or class does not exist.", err.Error())
}

func listenPrinter(t *testing.T) (net.Listener, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		got <- data
	}()
	return ln, got
}

func TestSystemSpoolerNetworkPrinter(t *testing.T) {
	ln, got := listenPrinter(t)
	host, port, _ := net.SplitHostPort(ln.Addr().String())

	path := filepath.Join(t.TempDir(), utils.PrintersFile)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	require.NoError(t, utils.SavePrinters(path, []model.Printer{
		{Name: "Kitchen", IP: host, Port: portNum, IsEnabled: true},
		{Name: "Bar", IP: "10.0.0.9", Port: 9100, IsEnabled: false},
	}))

	noCUPS := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, nil, errors.New(`exec: "lpstat": executable file not found in $PATH`)
	}}
	s := NewSystemSpooler(path, quietLogger(), WithRunner(noCUPS.run), WithSettle(0))

	devices, err := s.Printers(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1, "disabled printers are hidden")
	assert.Equal(t, DeviceNetwork, devices[0].Kind)
	assert.Equal(t, 576, devices[0].Dots)

	dev, err := s.Resolve(context.Background(), "Kitchen")
	require.NoError(t, err)
	assert.Equal(t, ln.Addr().String(), dev.Address)

	require.NoError(t, s.Submit(context.Background(), dev, Job{Format: FormatRaw, Data: []byte("hello")}))
	select {
	case data := <-got:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
	}

	err = s.Submit(context.Background(), dev, Job{Format: FormatPDF, Data: []byte("%PDF")})
	assert.True(t, errors.Is(err, model.ErrPrint))
}

func TestSystemSpoolerResolveFallsBackToSystemQueue(t *testing.T) {
	s := NewSystemSpooler(filepath.Join(t.TempDir(), utils.PrintersFile), quietLogger())

	dev, err := s.Resolve(context.Background(), "Front_Desk")
	require.NoError(t, err)
	assert.Equal(t, DeviceSystem, dev.Kind)

	_, err = s.Resolve(context.Background(), "")
	assert.True(t, errors.Is(err, model.ErrNoPrinter))
}

func TestSendRawUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = SendRaw(context.Background(), addr, []byte("x"), time.Second, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPrint))
	assert.True(t, strings.HasPrefix(err.Error(), "connection failed"))
}
