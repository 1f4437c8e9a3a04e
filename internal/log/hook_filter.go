package log

import (
	"fmt"
	"io"
	"regexp"

	"github.com/sirupsen/logrus"
)

// FilterHook is a logrus hook for filtering log messages by a user provided
// regular expression.
type FilterHook struct {
	custom *regexp.Regexp
}

// NewFilterHook creates a new FilterHook for the provided filter expression.
func NewFilterHook(filter string) (*FilterHook, error) {
	var (
		custom *regexp.Regexp
		err    error
	)

	if filter != "" {
		custom, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("custom log level filter does not compile: %w", err)
		}
		logrus.Debugf("Using log filter: %q", custom)
	}

	return &FilterHook{custom}, nil
}

// Levels returns the levels for which the hook is activated.
func (f *FilterHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire executes the hook for every logrus entry.
func (f *FilterHook) Fire(entry *logrus.Entry) error {
	if f.custom != nil && !f.custom.MatchString(entry.Message) {
		*entry = logrus.Entry{
			Logger: &logrus.Logger{
				Out:       io.Discard,
				Formatter: &logrus.JSONFormatter{},
			},
		}
	}

	return nil
}
