package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Default level
	Logger.SetLevel(logrus.InfoLevel)

	// Override from env, e.g., LOG_LEVEL=debug
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if parsedLevel, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
			Logger.SetLevel(parsedLevel)
		}
	}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		Logger.SetFormatter(jsonFormatter())
	}
}

// Options tunes the shared logger once the configuration is loaded.
type Options struct {
	Level  string
	Format string // "text" or "json"
	File   string // optional rotating log file, in addition to stdout
}

// Configure applies opts to Logger. An invalid level keeps the current one and
// is reported back to the caller.
func Configure(opts Options) error {
	var levelErr error
	if opts.Level != "" {
		level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			levelErr = err
		} else {
			Logger.SetLevel(level)
		}
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		Logger.SetFormatter(jsonFormatter())
	case "text":
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File != "" {
		Logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}
	return levelErr
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

// WithComponent adds a component field to the logger
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// WithTenant adds component and tenant fields to the logger
func WithTenant(component, tenantID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"component": component, "tenant": tenantID})
}
