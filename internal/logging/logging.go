package logging

import (
	"log"
	"os"
	"strconv"

	"github.com/rollbar/rollbar-go"
)

// Logger is the leveled logger used across the service. Extra args are
// printed after the message and attached to Rollbar items as extras.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Options struct {
	RollbarToken string
	Environment  string
	CodeVersion  string
}

// New returns a Rollbar-backed logger when a token is configured and a plain
// stdout logger otherwise.
func New(opts Options) Logger {
	std := log.New(os.Stdout, "", log.LstdFlags|log.LUTC)
	if opts.RollbarToken == "" {
		return StdLogger{std: std}
	}
	return NewRollbarLogger(std, opts)
}

type StdLogger struct {
	std *log.Logger
}

func NewStdLogger(std *log.Logger) StdLogger {
	return StdLogger{std: std}
}

func (l StdLogger) print(level, msg string, args []any) {
	l.std.Printf("%s %s", level, msg)
	for _, arg := range args {
		l.std.Printf("%s   %+v", level, arg)
	}
}

func (l StdLogger) Debug(msg string, args ...any) { l.print("DEBUG", msg, args) }
func (l StdLogger) Info(msg string, args ...any)  { l.print("INFO", msg, args) }
func (l StdLogger) Warn(msg string, args ...any)  { l.print("WARN", msg, args) }
func (l StdLogger) Error(msg string, args ...any) { l.print("ERROR", msg, args) }

type RollbarLogger struct {
	std StdLogger
}

func NewRollbarLogger(std *log.Logger, opts Options) *RollbarLogger {
	rollbar.SetToken(opts.RollbarToken)
	rollbar.SetEnvironment(opts.Environment)
	if opts.CodeVersion != "" {
		rollbar.SetCodeVersion(opts.CodeVersion)
	}
	return &RollbarLogger{std: StdLogger{std: std}}
}

func (l *RollbarLogger) Debug(msg string, args ...any) {
	rollbar.Debug(prepare(msg, args)...)
	l.std.Debug(msg, args...)
}

func (l *RollbarLogger) Info(msg string, args ...any) {
	rollbar.Info(prepare(msg, args)...)
	l.std.Info(msg, args...)
}

func (l *RollbarLogger) Warn(msg string, args ...any) {
	rollbar.Warning(prepare(msg, args)...)
	l.std.Warn(msg, args...)
}

func (l *RollbarLogger) Error(msg string, args ...any) {
	rollbar.Error(prepare(msg, args)...)
	l.std.Error(msg, args...)
}

// Flush blocks until queued Rollbar items are sent.
func (l *RollbarLogger) Flush() {
	rollbar.Wait()
}

// prepare turns trailing args into the shape rollbar expects: the message
// first, an error if present, then a single map of extras.
func prepare(msg string, args []any) []any {
	out := []any{msg}
	extras := map[string]any{}
	for i, arg := range args {
		switch v := arg.(type) {
		case error:
			out = append(out, v)
		case map[string]any:
			for key, value := range v {
				extras[key] = value
			}
		default:
			extras[argKey(i)] = v
		}
	}
	if len(extras) > 0 {
		out = append(out, extras)
	}
	return out
}

func argKey(i int) string {
	return "arg" + strconv.Itoa(i)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
