// Package logger wraps go.uber.org/zap behind the small set of
// package-level calls the teacher's binaries use (Debug/Info/Warn/
// Error/Fatal plus the Banner/Section startup decorations), so the
// demo commands keep the teacher's terse call sites while getting
// structured, leveled logging instead of colored fmt.Println.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.SugaredLogger

func init() {
	base = build(zapcore.InfoLevel)
}

func build(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		return fallback.Sugar()
	}
	return l.Sugar()
}

// SetLevel adjusts the minimum level of the package logger.
func SetLevel(level zapcore.Level) {
	base = build(level)
}

// With returns a child logger carrying structured fields, for call
// sites that want to tag every subsequent line (per-connection id,
// per-request correlation id).
func With(args ...interface{}) *zap.SugaredLogger {
	return base.With(args...)
}

func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }
func Info(format string, args ...interface{})  { base.Infof(format, args...) }
func Warn(format string, args ...interface{})  { base.Warnf(format, args...) }
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { base.Fatalf(format, args...) }

// Section prints a boxed header marking a new phase of startup output
// (e.g. the transition from config parsing to serving). Writes
// directly to stdout rather than through the zap logger: it's terminal
// decoration for a human watching the process start, not a log event
// worth a timestamp or level.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Fprintf(os.Stdout, "\n╔%s╗\n", border)
	fmt.Fprintf(os.Stdout, "║ %-57s ║\n", title)
	fmt.Fprintf(os.Stdout, "╚%s╝\n\n", border)
}

// Banner prints the application banner shown at process start, the
// same way Section does: straight to stdout, no zap involved.
func Banner(title, version string) {
	const banner = `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   █▄░█ █▀▀ ▀█▀ █▀▀ █░█ ▄▀█ █▄░█                            ║
║   █░▀█ ██▄ ░█░ █▄▄ █▀█ █▀█ █░▀█                            ║
║                                                           ║
║              %-37s║
║                    Version %-7s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Fprintf(os.Stdout, banner, title, version)
}
