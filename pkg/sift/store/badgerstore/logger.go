package badgerstore

import "github.com/charmbracelet/log"

// badgerLogger routes badger's internal logging to the store component
// logger. Badger is chatty at info level, so info and debug are demoted.
type badgerLogger struct {
	l *log.Logger
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.l.Errorf(format, args...) }
func (b badgerLogger) Warningf(format string, args ...any) { b.l.Warnf(format, args...) }
func (b badgerLogger) Infof(format string, args ...any)    { b.l.Debugf(format, args...) }
func (b badgerLogger) Debugf(string, ...any)               {}
