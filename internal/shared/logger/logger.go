package logger

import (
	"flag"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Log is the process-wide logrus instance. It is usable before InitLogger is
// called so packages and tests never see a nil logger.
var Log = newLogger("INFO", "text")

var initializeLogger sync.Once

// InitLogger configures Log from LOG_LEVEL and LOG_FORMAT.
func InitLogger() {
	initializeLogger.Do(func() {
		logconfig := viper.New()
		logconfig.SetDefault("LOG_LEVEL", "INFO")
		logconfig.SetDefault("LOG_FORMAT", "text")
		logconfig.AutomaticEnv()

		Log = newLogger(logconfig.GetString("LOG_LEVEL"), logconfig.GetString("LOG_FORMAT"))
	})
}

func newLogger(level, format string) *logrus.Logger {
	return &logrus.Logger{
		Out:       os.Stdout,
		Level:     parseLevel(level),
		Formatter: buildFormatter(format),
		Hooks:     make(logrus.LevelHooks),
	}
}

func parseLevel(level string) logrus.Level {
	if flag.Lookup("test.v") != nil {
		return logrus.FatalLevel
	}

	switch strings.ToUpper(level) {
	case "TRACE":
		return logrus.TraceLevel
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func buildFormatter(format string) logrus.Formatter {
	switch strings.ToUpper(format) {
	case "JSON":
		return &logrus.JSONFormatter{}
	default:
		return &logrus.TextFormatter{FullTimestamp: true}
	}
}

// LogError logs err with a message at error level.
func LogError(msg string, err error) {
	Log.WithFields(logrus.Fields{"error": err}).Error(msg)
}
