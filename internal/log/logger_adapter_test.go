package log

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitByConfigParsesLevelFallsBackToInfo(t *testing.T) {
	err := initByConfig(&LoggerConfig{Pattern: "%msg", Time: "2006-01-02", Level: "not-a-level"})
	require.NoError(t, err)

	adapter, ok := GetLogger().(*logrusAdapter)
	require.True(t, ok)
	require.Equal(t, logrus.InfoLevel, adapter.entry.Logger.Level)
}

func TestWithFieldReturnsIndependentLogger(t *testing.T) {
	require.NoError(t, initByConfig(&LoggerConfig{Pattern: "%msg", Time: "2006-01-02", Level: "debug"}))

	base := GetLogger()
	tagged := base.WithField("worker_id", 3)

	require.IsType(t, &logrusAdapter{}, tagged)
	require.NotSame(t, base.(*logrusAdapter).entry, tagged.(*logrusAdapter).entry)
}

func TestPatternFormatterRendersPattern(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&patternFormatter{pattern: "%level: %msg", time: "2006-01-02"})

	l.WithField("queue_id", "1.0").Info("worker started")

	require.Contains(t, buf.String(), "info: worker started")
}

func TestFanoutSinkWritesStdoutAndFile(t *testing.T) {
	dir := t.TempDir()
	s := newFanoutSink()
	var stdout bytes.Buffer
	s.stdout = &stdout
	s.addFile(FileAppenderOpt{Filename: dir + "/out.log", MaxSize: 1})

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", stdout.String())
	require.NoError(t, s.Close())

	contents, err := os.ReadFile(dir + "/out.log")
	require.NoError(t, err)
	require.Equal(t, "hello", string(contents))
}

var _ io.Writer = (*fanoutSink)(nil)
