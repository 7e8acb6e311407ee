package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	cblog "github.com/charmbracelet/log"
)

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *cblog.Logger {
	l := cblog.NewWithOptions(w, cblog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "dseek",
	})
	l.SetStyles(styles())
	return l
}

func styles() *cblog.Styles {
	s := cblog.DefaultStyles()
	s.Levels[cblog.DebugLevel] = lipgloss.NewStyle().
		SetString("DEBUG").
		Foreground(lipgloss.Color("63"))
	s.Levels[cblog.InfoLevel] = lipgloss.NewStyle().
		SetString("INFO").
		Foreground(lipgloss.Color("86"))
	s.Levels[cblog.WarnLevel] = lipgloss.NewStyle().
		SetString("WARN").
		Foreground(lipgloss.Color("192"))
	s.Levels[cblog.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERROR").
		Bold(true).
		Foreground(lipgloss.Color("204"))
	s.Levels[cblog.FatalLevel] = lipgloss.NewStyle().
		SetString("FATAL").
		Bold(true).
		Foreground(lipgloss.Color("134"))
	return s
}

// SetOutput redirects all log output. Used by tests to silence or capture logs.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel accepts debug, info, warn, error or fatal. Unknown values fall back to info.
func SetLevel(level string) {
	lvl, err := cblog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = cblog.InfoLevel
	}
	logger.SetLevel(lvl)
}

func Logger() *cblog.Logger {
	return logger
}

func With(keyvals ...any) *cblog.Logger {
	return logger.With(keyvals...)
}

func Debug(msg any, keyvals ...any) { logger.Debug(msg, keyvals...) }
func Info(msg any, keyvals ...any)  { logger.Info(msg, keyvals...) }
func Warn(msg any, keyvals ...any)  { logger.Warn(msg, keyvals...) }
func Error(msg any, keyvals ...any) { logger.Error(msg, keyvals...) }

func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }
func Fatalf(format string, args ...any) { logger.Fatalf(format, args...) }
