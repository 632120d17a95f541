package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/printer"
	"github.com/Riboost-Studio/order-print-desk/internal/realtime"
	"github.com/Riboost-Studio/order-print-desk/internal/receipt"
	"github.com/Riboost-Studio/order-print-desk/internal/services"
	"github.com/Riboost-Studio/order-print-desk/internal/session"
	"github.com/Riboost-Studio/order-print-desk/internal/supabase"
	"github.com/Riboost-Studio/order-print-desk/internal/token"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

const (
	appName     = "Order Print Desk"
	appVersion  = "1.0.0"
	ordersTable = "orders"
)

// --- Main ---

func main() {
	discover := flag.Bool("discover", false, "scan the local network for raw TCP printers and exit")
	templateFile := flag.String("template", "", "markup receipt template file (defaults to the built-in one)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// 1. Load Configuration
	config, err := utils.LoadOrSetupConfig(os.Stdin, os.Stdout)
	if err != nil {
		logger.WithError(err).Fatal("Config error")
	}
	if level, err := logrus.ParseLevel(config.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", config.LogLevel).Warn("Unknown log level, using info")
	}
	logger.WithFields(logrus.Fields{
		"version":  appVersion,
		"backend":  config.SupabaseURL,
		"data_dir": config.DataDir,
		"mode":     config.ReceiptMode,
		"policy":   config.PrintPolicy,
	}).Infof("%s starting", appName)

	utils.LogSystemRequirements(utils.DetectSystem(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printersFile := filepath.Join(config.DataDir, utils.PrintersFile)

	// 2. Discovery (on request)
	if *discover {
		if err := runDiscovery(ctx, printersFile, logger); err != nil {
			logger.WithError(err).Fatal("Discovery failed")
		}
		return
	}

	if err := run(ctx, config, printersFile, *templateFile, logger); err != nil {
		logger.WithError(err).Fatal("Print desk stopped")
	}
	logger.Info("Shut down cleanly")
}

func runDiscovery(ctx context.Context, printersFile string, logger *logrus.Logger) error {
	scanner := printer.Scanner{Logger: logger}
	found, err := scanner.Discover(ctx, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No printers added.")
		return nil
	}
	if err := utils.SavePrinters(printersFile, found); err != nil {
		return err
	}
	fmt.Printf("Saved %d printer(s) to %s\n", len(found), printersFile)
	return nil
}

func run(ctx context.Context, config model.Config, printersFile, templateFile string, logger *logrus.Logger) error {
	// 3. Backend and session
	backend := supabase.NewClient(config.SupabaseURL, config.SupabaseAnonKey, logger)
	sessions := session.NewManager(filepath.Join(config.DataDir, utils.SessionFile), backend, logger)
	backend.StartAutoRefresh(ctx)

	// 4. Receipt pipeline
	formatter, err := receipt.New(receipt.Options{
		Mode:           config.ReceiptMode,
		RestaurantName: config.RestaurantName,
		Currency:       config.CurrencySymbol,
		Copies:         config.ReceiptCopies,
		PaperWidthMM:   config.PaperWidthMM,
		TemplateFile:   templateFile,
	})
	if err != nil {
		return err
	}

	store := utils.NewConfigStore(config.DataDir, logger)
	spooler := printer.NewSystemSpooler(printersFile, logger)
	hub := services.NewHub(logger)

	var app *services.App
	_, chromePath := utils.CheckChrome()
	dispatcher := printer.NewDispatcher(
		func() model.PrinterConfig { return app.PrinterConfig() },
		spooler,
		logger,
		printer.WithPolicy(config.PrintPolicy),
		printer.WithRenderer(model.ReceiptModeMarkup, &printer.ChromeRenderer{ExecPath: chromePath, Logger: logger}),
	)

	// 5. Realtime feed
	dialer := realtime.DialerFunc(func(ctx context.Context, table string) (realtime.Channel, error) {
		ch, err := backend.Realtime().Subscribe(ctx, table)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
	feed := realtime.NewAdapter(dialer, backend, ordersTable, logger)

	app = services.NewApp(services.Deps{
		Backend:    backend,
		Sessions:   sessions,
		Store:      store,
		Tokens:     token.NewAssigner(filepath.Join(config.DataDir, utils.TokenFile), logger),
		Formatter:  formatter,
		Dispatcher: dispatcher,
		Spooler:    spooler,
		Feed:       feed,
		Hub:        hub,
		Chooser:    services.DialogChooser{In: os.Stdin, Out: os.Stdout},
		Logger:     logger,
		Policy:     config.PrintPolicy,
	})

	go hub.Run(ctx)
	app.Start(ctx)
	defer app.Close()

	fmt.Printf("--- %s running. Dashboard at http://%s ---\n", appName, config.DashboardAddr)
	return services.NewDashboard(app, hub, logger).Serve(ctx, config.DashboardAddr)
}
