package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zerolog.WarnLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "not-a-level")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PRICECRAWLER_ENVIRONMENT", "production")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())

	t.Setenv("PRICECRAWLER_ENVIRONMENT", "development")
	assert.Equal(t, zerolog.DebugLevel, getLogLevel())
}

func TestWithFieldsWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf).WithFields(Fields{"component": "crawler", "page": 3})

	l.Error().Err(errors.New("boom")).Msg("page failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "crawler", line["component"])
	assert.Equal(t, float64(3), line["page"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "page failed", line["message"])
	assert.Equal(t, "error", line["level"])
}

func TestComponentLoggers(t *testing.T) {
	Init()
	assert.NotNil(t, ForCrawler("raspberry pi"))
	assert.NotNil(t, ForWorker())
	assert.NotNil(t, ForStorage())
	assert.NotNil(t, ForPublisher())
	assert.NotNil(t, ForCache())
}

func TestWithErrorAndPackageHelpers(t *testing.T) {
	var buf bytes.Buffer
	prev := Default
	Default = New(&buf)
	defer func() { Default = prev }()

	Default.WithError(errors.New("connection reset")).Warn().Msg("retrying")
	Debug("page %d fetched", 2)
	Error("commit failed for %s", "products")
	LogError("storage", errors.New("deadlock"), "batch of %d rolled back", 5)

	var lines []map[string]interface{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]interface{}
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}

	var messages []string
	for _, line := range lines {
		messages = append(messages, line["message"].(string))
	}
	assert.Contains(t, messages, "retrying")
	assert.Contains(t, messages, "commit failed for products")
	assert.Contains(t, messages, "batch of 5 rolled back")
	assert.Equal(t, "connection reset", lines[0]["error"])
	assert.Equal(t, "storage", lines[len(lines)-1]["component"])

	prevLevel := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prevLevel)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	assert.True(t, IsDebugEnabled())
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	assert.False(t, IsDebugEnabled())
}
