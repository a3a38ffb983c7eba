package logging

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// SetUp configures the standard logger: JSON lines at the given level.
func SetUp(logLevel string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	if out != nil {
		logrus.SetOutput(out)
	}
	return nil
}

// L returns an entry of the standard logger tagged with component.
func L(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
