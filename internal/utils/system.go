package utils

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SystemInfo describes the host capabilities the print pipeline relies on.
type SystemInfo struct {
	OS           string
	Architecture string
	ChromePath   string
	CUPS         bool
}

func (s SystemInfo) ChromePresent() bool { return s.ChromePath != "" }

// DetectSystem probes the host for a Chrome/Chromium binary and CUPS client
// tools.
func DetectSystem() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
	_, info.ChromePath = CheckChrome()
	_, err := exec.LookPath("lp")
	info.CUPS = err == nil
	return info
}

// --------------------------------------
// CHROME CHECK
// --------------------------------------

// CheckChrome locates a Chrome or Chromium binary. CHROME_PATH wins, then
// the PATH, then the usual install locations for the OS.
func CheckChrome() (bool, string) {
	if path := os.Getenv("CHROME_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return true, path
		}
	}
	for _, candidate := range chromeCandidates(runtime.GOOS) {
		if filepath.IsAbs(candidate) {
			if _, err := os.Stat(candidate); err == nil {
				return true, candidate
			}
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return true, path
		}
	}
	return false, ""
}

func chromeCandidates(goos string) []string {
	candidates := []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
	switch goos {
	case "darwin":
		candidates = append(candidates,
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium")
	case "linux":
		for _, dir := range []string{"/usr/bin", "/snap/bin"} {
			for _, bin := range candidates[:4] {
				candidates = append(candidates, filepath.Join(dir, bin))
			}
		}
	case "windows":
		for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LocalAppData"} {
			if base := os.Getenv(env); base != "" {
				candidates = append(candidates, filepath.Join(base, "Google", "Chrome", "Application", "chrome.exe"))
			}
		}
	}
	return candidates
}

// --------------------------------------
// VALIDATION
// --------------------------------------

// LogSystemRequirements reports missing capabilities. Nothing here is fatal:
// markup receipts need Chrome, silent printing to OS queues needs CUPS.
func LogSystemRequirements(info SystemInfo, logger *logrus.Logger) {
	fields := logrus.Fields{"os": info.OS, "arch": info.Architecture, "cups": info.CUPS}

	if info.ChromePresent() {
		fields["chrome"] = info.ChromePath
		fields["chrome_version"] = chromeVersion(info.ChromePath)
		logger.WithFields(fields).Info("System check")
	} else {
		logger.WithFields(fields).Warn("Chrome/Chromium not found; markup receipts cannot be rendered. " + chromeInstallHint(info.OS))
	}

	if !info.CUPS {
		logger.Warn("CUPS client tools (lp, lpstat) not found; only network printers and PDF output are available")
	}
}

func chromeVersion(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

func chromeInstallHint(osType string) string {
	switch osType {
	case "linux":
		return "Install with: sudo apt install chromium-browser (Debian/Ubuntu), sudo dnf install chromium (Fedora) or sudo pacman -S chromium (Arch)."
	case "darwin":
		return "Install with: brew install --cask google-chrome"
	case "windows":
		return "Download Google Chrome from https://www.google.com/chrome/"
	default:
		return "Install Chrome or Chromium for your OS."
	}
}
