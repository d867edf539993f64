package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggerAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := MockLoggerTo(&buf)
	require.NotNil(t, logger)

	logger.GetComponentLogger("pipeline").Infof("hello %s", "world")

	var line map[string]interface{}
	require.Nil(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pipeline", line["component"])
	assert.Equal(t, "hello world", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := MockLoggerTo(&buf)

	logger.WithFields(map[string]interface{}{"type": "http_error"}).Warn("child")
	logger.Warn("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"http_error"`)
	assert.NotContains(t, lines[1], `"type"`)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Writers: []io.Writer{&buf}, LogLevel: "warn"})
	require.Nil(t, err)

	logger.Debug("quiet")
	logger.Errorf("loud %d", 1)

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud 1")
}

func TestFileLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "errwatch.log")
	logger, err := New(&Config{FilePath: path})
	require.Nil(t, err)

	logger.Info("to disk")

	content, err := os.ReadFile(path)
	require.Nil(t, err)
	assert.Contains(t, string(content), "to disk")
}
