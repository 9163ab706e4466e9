package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSONOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := New()
	require.NoError(t, l.Configure("debug", "json", "stdout", 0))

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.WithComponent("processor").WithField("shard", 3).Info("started")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "started", out["message"])
	assert.Equal(t, "processor", out["component"])
	assert.Equal(t, float64(3), out["shard"])
	assert.Contains(t, out, "timestamp")
}

func TestConfigure_InvalidValues(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := New()
	assert.Error(t, l.Configure("loud", "json", "stdout", 0))
	assert.Error(t, l.Configure("info", "xml", "stdout", 0))
}

func TestConfigure_FileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := New()
	path := filepath.Join(t.TempDir(), "processor.log")
	require.NoError(t, l.Configure("info", "text", path, 7))
	l.WithComponent("test").Info("rotating file output")
}

func TestEnvLevelOverridesConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	l := New()
	require.NoError(t, l.Configure("debug", "json", "stdout", 0))
	assert.Equal(t, "warning", l.GetLevel().String())
}
