// Package colors renders brokkr terminal output with ANSI colors, falling
// back to plain text when the terminal or NO_COLOR asks for it.
package colors

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// ANSI color codes
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"
	ColorGreen = "\033[32m"
	ColorGray  = "\033[90m"

	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
)

var colorEnabled = shouldUseColor()

func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	if runtime.GOOS == "windows" {
		// Windows Terminal and the VS Code terminal both understand ANSI.
		return os.Getenv("WT_SESSION") != "" || os.Getenv("VSCODE_PID") != "" ||
			strings.Contains(term, "color") || strings.Contains(term, "xterm")
	}
	if term == "dumb" || term == "" {
		return false
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return true
}

// SetColorEnabled allows manual control of color output
func SetColorEnabled(enabled bool) {
	colorEnabled = enabled
}

// IsColorEnabled returns whether colors are currently enabled
func IsColorEnabled() bool {
	return colorEnabled
}

func colorize(text, color string) string {
	if !colorEnabled {
		return text
	}
	return color + text + ColorReset
}

func Red(text string) string     { return colorize(text, BrightRed) }
func Green(text string) string   { return colorize(text, BrightGreen) }
func Blue(text string) string    { return colorize(text, BrightBlue) }
func Yellow(text string) string  { return colorize(text, BrightYellow) }
func Cyan(text string) string    { return colorize(text, BrightCyan) }
func Magenta(text string) string { return colorize(text, BrightMagenta) }
func Gray(text string) string    { return colorize(text, ColorGray) }
func Bold(text string) string    { return colorize(text, ColorBold) }
func Dim(text string) string     { return colorize(text, ColorDim) }

// ColorizeFileStatus renders one status line: a one-letter prefix and the
// path, both in the color of the status name.
func ColorizeFileStatus(status, prefix, filePath string) string {
	var paint func(string) string
	switch strings.ToLower(status) {
	case "added", "copied":
		paint = Green
	case "modified", "renamed":
		paint = Blue
	case "deleted", "missing":
		paint = Red
	case "unversioned":
		paint = Yellow
	case "conflict":
		paint = Magenta
	case "ignored":
		paint = Gray
	default:
		return fmt.Sprintf("     %s", filePath)
	}
	return fmt.Sprintf("  %s  %s", paint(prefix), paint(filePath))
}

// SectionHeader renders a heading above a group of lines.
func SectionHeader(text string) string {
	return Bold(text)
}

func ErrorText(text string) string   { return Red(text) }
func SuccessText(text string) string { return Green(text) }
func InfoText(text string) string    { return Cyan(text) }
func WarningText(text string) string { return Yellow(text) }
