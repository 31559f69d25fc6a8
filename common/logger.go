package common

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger creates a text logger with full timestamps at the given level.
//
// Arguments:
//   - level: A logrus level name ("debug", "info", "warn", ...). Empty means "info".
//
// Returns:
//   - *logrus.Logger: The configured logger.
//   - error: If the level name is unknown.
func NewLogger(level string) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidParameter, "log level %q", level)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(lvl)
	return log, nil
}

// LoggerOrDefault returns entry, or an entry on the standard logger when entry is nil.
func LoggerOrDefault(entry *logrus.Entry) *logrus.Entry {
	if entry != nil {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
