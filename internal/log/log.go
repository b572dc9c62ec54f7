package log

import (
	"sync"
)

// mu guards logger and rawEntry across Init/Reload calls racing against
// GetLogger/Entry from other goroutines (the daemon calls Init again on
// SIGHUP to pick up a changed log level).
var mu sync.RWMutex

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var logger Logger

func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init (re)configures the package-level logger from cfg. Safe to call more
// than once: the daemon's SIGHUP reload path calls it again to pick up a
// changed log level without restarting the process.
func Init(cfg *LoggerConfig) error {
	mu.Lock()
	defer mu.Unlock()
	return initByConfig(cfg)
}

// Flush closes any file-backed appenders (lumberjack rotates on Close, it
// does not buffer otherwise) so a daemon shutdown doesn't lose the tail of
// the log.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	if sink != nil {
		sink.Close()
	}
}
