package logging

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger, err := NewLogger(WithWriter(&buf), WithPrefix("test: "), WithFlag(log.Lmsgprefix), WithLevel(level))
	require.NoError(t, err)
	return logger, &buf
}

// TestLoggerFiltersBelowLevel checks that messages below the configured level are dropped.
func TestLoggerFiltersBelowLevel(t *testing.T) {
	logger, buf := newBufferedLogger(t, Warn)

	logger.Debug("hidden")
	logger.Infof("hidden %d", 1)
	require.Empty(t, buf.String())

	logger.Warnf("send to %s failed", "node-2")
	require.Contains(t, buf.String(), "test: WARN: send to node-2 failed")

	buf.Reset()
	logger.Error("boom")
	require.Contains(t, buf.String(), "ERROR: boom")
}

func TestLoggerDefaults(t *testing.T) {
	logger, err := NewLogger()
	require.NoError(t, err)
	require.Equal(t, Info, logger.Level())
}

func TestLoggerRejectsInvalidOptions(t *testing.T) {
	_, err := NewLogger(WithWriter(nil))
	require.Error(t, err)

	_, err = NewLogger(WithLevel(Level(42)))
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   Debug,
		"INFO":    Info,
		"":        Info,
		" warn ":  Warn,
		"warning": Warn,
		"error":   Error,
		"fatal":   Fatal,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestLevelString(t *testing.T) {
	require.Equal(t, "DEBUG", Debug.String())
	require.Equal(t, "FATAL", Fatal.String())
	require.Panics(t, func() { _ = Level(9).String() })
}
