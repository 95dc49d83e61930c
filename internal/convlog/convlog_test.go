package convlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "global.ndjson")
	logger, err := New(Config{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	require.NoError(t, err)

	logger.Log(Event{
		UserID:     "anon_1",
		SessionID:  "tab-1",
		Channel:    "http",
		Direction:  "inbound",
		EventType:  EventUserMessage,
		Expert:     "tutela",
		ContentRaw: "  tengo una tutela\x07 pendiente\r\n",
	})
	logger.Log(Event{UserID: "anon_1", SessionID: "tab-1", EventType: EventAssistantMessage, ContentRaw: "respuesta"})
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "anon_1", "tab-1.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "tengo una tutela pendiente", got.Content)
	assert.Equal(t, EventUserMessage, got.EventType)
	assert.False(t, got.Timestamp.IsZero())

	globalData, err := os.ReadFile(global)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(globalData), "\n"))
}

func TestFileLoggerSanitisesPathSegments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir}, nil)
	require.NoError(t, err)

	logger.Log(Event{UserID: "../../etc", SessionID: "", ContentRaw: "x"})
	require.NoError(t, logger.Close())

	_, err = os.Stat(filepath.Join(dir, "_.._etc", "default.ndjson"))
	assert.NoError(t, err)
}

func TestLogAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()
	logger, err := New(Config{Enabled: true, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
	logger.Log(Event{UserID: "u"})
}

func TestDisabledReturnsNop(t *testing.T) {
	t.Parallel()
	logger, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, logger)
}

func TestCleanForReadability(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "línea uno\nlínea\tdos", CleanForReadability("\x00línea uno\r\nlínea\tdos \x1b"))
}
