package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

const (
	rawPrintPort = 9100
	defaultDots  = 576
)

// --- Network ---

// DetectLocalIP returns the host's LAN IPv4 address, preferring private
// ranges over any other non-loopback address.
func DetectLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	var fallback net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil {
			continue
		}
		if ip.IsPrivate() {
			return ip.String(), nil
		}
		if fallback == nil {
			fallback = ip
		}
	}
	if fallback != nil {
		return fallback.String(), nil
	}
	return "", fmt.Errorf("no local IPv4 address found")
}

// Probe reports whether something accepts TCP connections on ip:port.
func Probe(ip string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	return conn.Close() == nil
}

// LoadPrinters reads the network printers list; a missing file is empty.
func LoadPrinters(path string) ([]model.Printer, error) {
	var printers []model.Printer
	if err := ReadJSON(path, &printers); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Printer{}, nil
		}
		return nil, err
	}
	for i := range printers {
		if printers[i].Size == 0 {
			printers[i].Size = defaultDots
		}
	}
	return printers, nil
}

// SavePrinters merges printers into the stored list, keyed by IP. Existing
// entries win.
func SavePrinters(path string, printers []model.Printer) error {
	existing, err := LoadPrinters(path)
	if err != nil {
		return fmt.Errorf("failed to read existing printers file: %w", err)
	}

	byIP := make(map[string]bool, len(existing))
	for _, p := range existing {
		byIP[p.IP] = true
	}

	for _, p := range printers {
		if byIP[p.IP] {
			continue
		}
		if p.Size == 0 {
			p.Size = defaultDots
		}
		if p.Port == 0 {
			p.Port = rawPrintPort
		}
		existing = append(existing, p)
		byIP[p.IP] = true
	}

	return WriteJSONAtomic(path, existing)
}
