package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Init replaces its level and formatter.
var Log = logrus.New()

// Init configures Log from the LOG_LEVEL / LOG_FORMAT settings.
func Init(level, format string) {
	Log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		Log.Warnf("unknown log level %q, using info", level)
	}
	Log.SetLevel(lvl)

	if format == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
