package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

const (
	PrinterConfigFile = "printer-config.json"
	SessionFile       = "supabase-session.json"
	TokenFile         = "token-data.json"
	PrintersFile      = "printers.json"
	BillsDir          = "bills"
)

// ConfigStore persists the printer selection and PDF directory.
type ConfigStore struct {
	path          string
	defaultPDFDir string
	logger        *logrus.Logger
}

func NewConfigStore(dataDir string, logger *logrus.Logger) *ConfigStore {
	return &ConfigStore{
		path:          filepath.Join(dataDir, PrinterConfigFile),
		defaultPDFDir: filepath.Join(dataDir, BillsDir),
		logger:        logger,
	}
}

func (s *ConfigStore) Path() string { return s.path }

func (s *ConfigStore) Default() model.PrinterConfig {
	return model.PrinterConfig{PDFSavePath: s.defaultPDFDir}
}

// Load never fails: a missing or malformed file yields the default config.
func (s *ConfigStore) Load() model.PrinterConfig {
	var cfg model.PrinterConfig
	if err := ReadJSON(s.path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).WithField("path", s.path).Warn("Printer config unreadable, using defaults")
		}
		return s.Default()
	}

	if cfg.PrinterName != nil && strings.TrimSpace(*cfg.PrinterName) == "" {
		cfg.PrinterName = nil
	}
	if strings.TrimSpace(cfg.PDFSavePath) == "" {
		cfg.PDFSavePath = s.defaultPDFDir
	}

	s.logger.WithFields(logrus.Fields{
		"printer": cfg.Printer(),
		"path":    cfg.PDFSavePath,
	}).Info("Loaded printer config")
	return cfg
}

// Save overwrites the whole config file.
func (s *ConfigStore) Save(cfg model.PrinterConfig) error {
	if strings.TrimSpace(cfg.PDFSavePath) == "" {
		cfg.PDFSavePath = s.defaultPDFDir
	}
	if err := WriteJSONAtomic(s.path, cfg); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfigIO, err)
	}
	s.logger.WithFields(logrus.Fields{
		"printer": cfg.Printer(),
		"path":    cfg.PDFSavePath,
	}).Info("Printer setting saved")
	return nil
}
