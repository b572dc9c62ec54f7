package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig mirrors the `log:` block of a ServerConfig/ClientConfig
// (internal/config). File is nil when file output is disabled.
type LoggerConfig struct {
	Pattern string           `mapstructure:"pattern"`
	Time    string           `mapstructure:"time"`
	Level   string           `mapstructure:"level"`
	File    *FileAppenderOpt `mapstructure:"file"`
}

// FileAppenderOpt configures the lumberjack-backed rotating file sink. The
// daemon populates this from config.FileOutputConfig on every Init/Reload
// call rather than unmarshalling it directly, so its field names are free to
// follow lumberjack's own vocabulary instead of viper's mapstructure tags.
type FileAppenderOpt struct {
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// fanoutSink duplicates every write across stdout and, when file output is
// configured, a rotating lumberjack file. It exists so initByConfig can
// build the logger's io.Writer without reaching for logrus hooks, which
// would run formatting twice.
type fanoutSink struct {
	stdout io.Writer
	file   io.WriteCloser
}

func newFanoutSink() *fanoutSink {
	return &fanoutSink{stdout: os.Stdout}
}

func (s *fanoutSink) addFile(opt FileAppenderOpt) {
	s.file = &lumberjack.Logger{
		Filename:   opt.Filename,
		MaxSize:    opt.MaxSize,
		MaxBackups: opt.MaxBackups,
		MaxAge:     opt.MaxAge,
		Compress:   opt.Compress,
	}
}

func (s *fanoutSink) Write(p []byte) (int, error) {
	n, err := s.stdout.Write(p)
	if s.file != nil {
		if _, ferr := s.file.Write(p); ferr != nil && err == nil {
			err = ferr
		}
	}
	return n, err
}

func (s *fanoutSink) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// patternFormatter renders a logrus.Entry against a template containing
// %time, %level, %field, %msg, %caller, %func and %goroutine placeholders,
// matching the `log.pattern` config knob.
type patternFormatter struct {
	pattern string
	time    string
}

func (f *patternFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	out := f.pattern
	out = strings.Replace(out, "%time", entry.Time.Format(f.time), 1)
	out = strings.Replace(out, "%level", entry.Level.String(), 1)
	out = strings.Replace(out, "%field", formatFields(entry), 1)
	out = strings.Replace(out, "%msg", entry.Message, 1)
	out = strings.Replace(out, "%caller", formatCaller(entry), 1)
	out = strings.Replace(out, "%func", formatFunc(entry), 1)
	out = strings.Replace(out, "%goroutine", currentGoroutineID(), 1)
	return []byte(out + "\n"), nil
}

func formatFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+s)
	}
	return strings.Join(fields, ",")
}

// formatCaller trims a caller's file path down to its base name, prefixed by
// the package the call came from: "orchestrator/orchestrator.go:156".
func formatCaller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "unknown"
	}
	file := baseName(entry.Caller.File)
	return fmt.Sprintf("%s/%s:%d", packageOf(entry.Caller.Function), file, entry.Caller.Line)
}

func formatFunc(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "unknown"
	}
	name := entry.Caller.Function
	if idx := strings.LastIndex(name, "."); idx != -1 && idx+1 < len(name) {
		return name[idx+1:]
	}
	return name
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx != -1 && idx+1 < len(path) {
		return path[idx+1:]
	}
	return path
}

func packageOf(funcName string) string {
	if idx := strings.LastIndex(funcName, "/"); idx != -1 {
		funcName = funcName[idx+1:]
	}
	if idx := strings.Index(funcName, "."); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}

// currentGoroutineID parses the calling goroutine's id out of a minimal
// runtime.Stack dump; logrus has no public accessor for it.
func currentGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	fields := strings.Fields(stack)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

type logrusAdapter struct {
	entry *logrus.Entry
}

// sink is the process's single fanout writer, if configured, kept so Flush
// can close its file leg on shutdown.
var sink *fanoutSink

// rawEntry is the *logrus.Entry backing the package-level Logger, exposed
// via Entry so the daemon's bootstrap code can hand the same configured
// logger to components (admin, orchestrator, worker, ...) that take a
// *logrus.Entry directly instead of going through the Logger interface.
var rawEntry *logrus.Entry

// Entry returns the *logrus.Entry backing the package-level logger. Panics
// if called before Init; every daemon entry point calls Init first.
func Entry() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	if rawEntry == nil {
		panic("log: Entry called before Init")
	}
	return rawEntry
}

func initByConfig(cfg *LoggerConfig) error {
	l := logrus.New()
	l.SetFormatter(&patternFormatter{pattern: cfg.Pattern, time: cfg.Time})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	s := newFanoutSink()
	if cfg.File != nil && cfg.File.Filename != "" {
		s.addFile(*cfg.File)
	}
	l.SetOutput(s)
	l.SetReportCaller(true)
	sink = s

	rawEntry = logrus.NewEntry(l)
	logger = &logrusAdapter{entry: rawEntry}
	return nil
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
