package printer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

const (
	discoveryWorkers = 50
	rawPort          = 9100
)

// ProbeFunc reports whether something listens on ip:port.
type ProbeFunc func(ip string, port int) bool

func defaultProbe(ip string, port int) bool {
	return utils.Probe(ip, port, 500*time.Millisecond)
}

// Scanner looks for raw-TCP printers on the local /24.
type Scanner struct {
	Probe  ProbeFunc
	Logger *logrus.Logger
}

// Scan probes every host of subnet (e.g. "192.168.1") and returns the
// addresses that accepted a connection, sorted.
func (s Scanner) Scan(ctx context.Context, subnet string) []string {
	probe := s.Probe
	if probe == nil {
		probe = defaultProbe
	}

	ipChan := make(chan string)
	foundChan := make(chan string, 256)
	var wg sync.WaitGroup

	for i := 0; i < discoveryWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range ipChan {
				if probe(ip, rawPort) {
					foundChan <- ip
				}
			}
		}()
	}

	go func() {
		defer close(ipChan)
		for i := 1; i <= 254; i++ {
			if ctx.Err() != nil {
				return
			}
			select {
			case ipChan <- fmt.Sprintf("%s.%d", subnet, i):
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(foundChan)
	}()

	var found []string
	for ip := range foundChan {
		found = append(found, ip)
	}
	sort.Slice(found, func(i, j int) bool { return hostOrder(found[i]) < hostOrder(found[j]) })
	return found
}

func hostOrder(ip string) int {
	var a, b, c, d int
	fmt.Sscanf(ip, "%d.%d.%d.%d", &a, &b, &c, &d)
	return d
}

// Discover scans the local subnet and asks on out/in which printers to keep.
func (s Scanner) Discover(ctx context.Context, in io.Reader, out io.Writer) ([]model.Printer, error) {
	localIP, err := utils.DetectLocalIP()
	if err != nil {
		return nil, fmt.Errorf("error detecting IP: %w", err)
	}
	parts := strings.Split(localIP, ".")
	subnet := strings.Join(parts[:3], ".")
	fmt.Fprintf(out, "Scanning subnet: %s.0/24\n", subnet)

	found := s.Scan(ctx, subnet)
	if s.Logger != nil {
		s.Logger.WithField("count", len(found)).Info("Printer scan finished")
	}
	return Confirm(found, in, out), nil
}

// Confirm walks the found addresses interactively and builds the printers
// the operator accepted.
func Confirm(found []string, in io.Reader, out io.Writer) []model.Printer {
	reader := bufio.NewReader(in)
	readLine := func() string {
		s, _ := reader.ReadString('\n')
		return strings.TrimSpace(s)
	}

	var printers []model.Printer
	for _, ip := range found {
		fmt.Fprintf(out, "Found printer at %s. Add this printer? (y/n): ", ip)
		if strings.ToLower(readLine()) != "y" {
			continue
		}
		p := model.Printer{
			IP:        ip,
			Port:      rawPort,
			IsEnabled: true,
			Size:      576,
		}

		fmt.Fprint(out, "  Name (e.g., Kitchen): ")
		p.Name = readLine()
		if p.Name == "" {
			p.Name = "Printer " + ip
		}

		fmt.Fprint(out, "  Description (e.g., Thermal Printer): ")
		p.Description = readLine()

		printers = append(printers, p)
	}
	return printers
}
