package bootlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFilterDropsBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})
	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("warning line")
	l.Error("error line")

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.True(t, strings.Contains(out, "warning line"))
	require.True(t, strings.Contains(out, "error line"))
}

func TestSetDefaultReplacesGlobal(t *testing.T) {
	var buf bytes.Buffer
	custom := New(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	Default().Info("hello")
	require.Contains(t, buf.String(), "hello")
}
