package sweep

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/log"
)

// Logger routes Temporal SDK logging into logrus. Key/value pairs become fields.
type Logger struct {
	entry logrus.FieldLogger
}

var _ log.Logger = (*Logger)(nil)

func NewLogger(l logrus.FieldLogger) *Logger {
	return &Logger{entry: l}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.with(keyvals).Debug(msg) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.with(keyvals).Info(msg) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.with(keyvals).Warn(msg) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.with(keyvals).Error(msg) }

func (l *Logger) with(keyvals []interface{}) logrus.FieldLogger {
	if len(keyvals) == 0 {
		return l.entry
	}
	fields := make(logrus.Fields, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 == len(keyvals) {
			fields["_extra"] = keyvals[i]
			break
		}
		fields[key] = keyvals[i+1]
	}
	return l.entry.WithFields(fields)
}
