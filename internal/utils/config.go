package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

const (
	AgentConfigFile      = "agent.json"
	DefaultDashboardAddr = "127.0.0.1:3491"
	DefaultPaperWidthMM  = 80
	DefaultCurrency      = "₹"
	DefaultRestaurant    = "LAURANS FOOD COURT"
	appDirName           = "order-print-desk"
)

// DefaultDataDir is the per-user application data directory.
func DefaultDataDir() string {
	if dir := os.Getenv("PRINT_DESK_DATA_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return appDirName
	}
	return filepath.Join(base, appDirName)
}

// LoadOrSetupConfig resolves the agent settings. The environment (after an
// optional .env) wins; backend credentials missing from it are read from
// agent.json, and when that file does not exist either the first-run setup
// prompts on in/out and writes it.
func LoadOrSetupConfig(in io.Reader, out io.Writer) (model.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	config := model.Config{DataDir: DefaultDataDir()}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return config, fmt.Errorf("failed to create data directory: %w", err)
	}

	config.SupabaseURL = os.Getenv("SUPABASE_URL")
	config.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")

	if config.SupabaseURL == "" || config.SupabaseAnonKey == "" {
		stored, err := loadOrPromptAgentFile(config.DataDir, in, out)
		if err != nil {
			return config, err
		}
		mergeConfig(&config, stored)
	}

	if err := applyEnv(&config); err != nil {
		return config, err
	}
	applyDefaults(&config)

	if config.SupabaseURL == "" || config.SupabaseAnonKey == "" {
		return config, fmt.Errorf("backend URL and anon key are required")
	}
	config.SupabaseURL = strings.TrimRight(config.SupabaseURL, "/")
	return config, nil
}

func loadOrPromptAgentFile(dataDir string, in io.Reader, out io.Writer) (model.Config, error) {
	path := filepath.Join(dataDir, AgentConfigFile)

	var stored model.Config
	err := ReadJSON(path, &stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return stored, err
	}

	fmt.Fprintln(out, "--- Initial Setup ---")
	reader := bufio.NewReader(in)

	stored.SupabaseURL = prompt(reader, out, "Enter backend URL", os.Getenv("SUPABASE_URL"))
	stored.SupabaseAnonKey = prompt(reader, out, "Enter backend anon key", os.Getenv("SUPABASE_ANON_KEY"))
	stored.RestaurantName = prompt(reader, out, "Enter restaurant name", DefaultRestaurant)
	stored.ReceiptMode = model.ReceiptMode(prompt(reader, out, "Receipt mode (markup/structured)", string(model.ReceiptModeMarkup)))
	stored.PrintPolicy = model.PrintPolicy(prompt(reader, out, "Print policy (pdf-fallback/require-printer)", string(model.PolicyPDFFallback)))

	if err := WriteJSONAtomic(path, stored); err != nil {
		return stored, err
	}
	fmt.Fprintln(out, "Configuration saved.")
	return stored, nil
}

func prompt(reader *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s (default: %s): ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def
	}
	return answer
}

func mergeConfig(dst *model.Config, src model.Config) {
	if dst.SupabaseURL == "" {
		dst.SupabaseURL = src.SupabaseURL
	}
	if dst.SupabaseAnonKey == "" {
		dst.SupabaseAnonKey = src.SupabaseAnonKey
	}
	dst.DashboardAddr = src.DashboardAddr
	dst.RestaurantName = src.RestaurantName
	dst.CurrencySymbol = src.CurrencySymbol
	dst.ReceiptMode = src.ReceiptMode
	dst.PrintPolicy = src.PrintPolicy
	dst.ReceiptCopies = src.ReceiptCopies
	dst.PaperWidthMM = src.PaperWidthMM
	dst.LogLevel = src.LogLevel
}

func applyEnv(config *model.Config) error {
	if v := os.Getenv("DASHBOARD_ADDR"); v != "" {
		config.DashboardAddr = v
	}
	if v := os.Getenv("RESTAURANT_NAME"); v != "" {
		config.RestaurantName = v
	}
	if v := os.Getenv("CURRENCY_SYMBOL"); v != "" {
		config.CurrencySymbol = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("RECEIPT_MODE"); v != "" {
		config.ReceiptMode = model.ReceiptMode(v)
	}
	if v := os.Getenv("PRINT_POLICY"); v != "" {
		config.PrintPolicy = model.PrintPolicy(v)
	}
	if v := os.Getenv("RECEIPT_COPIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RECEIPT_COPIES %q: %w", v, err)
		}
		config.ReceiptCopies = n
	}
	if v := os.Getenv("PAPER_WIDTH_MM"); v != "" {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PAPER_WIDTH_MM %q: %w", v, err)
		}
		config.PaperWidthMM = w
	}

	mode, err := model.ParseReceiptMode(string(config.ReceiptMode))
	if err != nil {
		return err
	}
	config.ReceiptMode = mode

	policy, err := model.ParsePrintPolicy(string(config.PrintPolicy))
	if err != nil {
		return err
	}
	config.PrintPolicy = policy
	return nil
}

func applyDefaults(config *model.Config) {
	if config.DashboardAddr == "" {
		config.DashboardAddr = DefaultDashboardAddr
	}
	if config.RestaurantName == "" {
		config.RestaurantName = DefaultRestaurant
	}
	if config.CurrencySymbol == "" {
		config.CurrencySymbol = DefaultCurrency
	}
	if config.ReceiptCopies < 1 || config.ReceiptCopies > 2 {
		config.ReceiptCopies = 1
	}
	if config.PaperWidthMM < 58 || config.PaperWidthMM > 80 {
		config.PaperWidthMM = DefaultPaperWidthMM
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}
