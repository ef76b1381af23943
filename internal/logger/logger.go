package logger

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
)

type Logger struct {
	*logrus.Entry
}

func New() *Logger {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput builds a logger writing to out. Local env = pretty console; others = JSON.
func NewWithOutput(out io.Writer) *Logger {
	base := logrus.New()

	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
			ForceColors:     isTerminal(out),
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	base.SetOutput(out)
	base.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))

	return &Logger{Entry: logrus.NewEntry(base)}
}

// ParseLevel maps LOG_LEVEL values; anything unknown is info.
func ParseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RequestID returns the caller-supplied X-Request-ID or a fresh uuid.
func RequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// WithRequest attaches request metadata and returns an entry
func (l *Logger) WithRequest(r *http.Request) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"req_id":     RequestID(r),
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote_ip":  r.RemoteAddr,
		"user_agent": r.UserAgent(),
	})
}

// WithError standardizes error logging
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.Entry
	}
	return ErrorFields(l.Entry, err)
}

// ErrorFields adds the error text and its taxonomy kind to entry.
func ErrorFields(entry *logrus.Entry, err error) *logrus.Entry {
	if err == nil {
		return entry
	}
	return entry.WithFields(logrus.Fields{
		"error":      err.Error(),
		"error_kind": apperr.KindOf(err).String(),
	})
}
