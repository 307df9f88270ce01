package eventlog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)
	defer writer.Close()

	records := []*Record{
		{ExecutionID: "exec-1", TaskID: "task-7", Phase: "start",
			Event: "status", Data: json.RawMessage(`{"status":"analyzing"}`)},
		{ExecutionID: "exec-1", TaskID: "task-7", Phase: "start",
			Event: "text", Data: json.RawMessage(`{"content":"hello"}`)},
	}
	for _, record := range records {
		require.NoError(t, writer.Write(record))
	}

	path := writer.CurrentLogFile()
	expected := filepath.Join(dir, fmt.Sprintf("frames-%s.jsonl", time.Now().UTC().Format("2006-01-02")))
	assert.Equal(t, expected, path)

	read, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, "status", read[0].Event)
	assert.JSONEq(t, `{"status":"analyzing"}`, string(read[0].Data))
	assert.Equal(t, "text", read[1].Event)
	assert.False(t, read[0].Timestamp.IsZero())
}

func TestWriterAppendsAcrossReopens(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, writer.Write(&Record{Phase: "start", Event: "done", Data: json.RawMessage(`{}`)}))
	path := writer.CurrentLogFile()
	require.NoError(t, writer.Close())

	writer, err = NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, writer.Write(&Record{Phase: "resume", Event: "done", Data: json.RawMessage(`{}`)}))
	require.NoError(t, writer.Close())

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "start", records[0].Phase)
	assert.Equal(t, "resume", records[1].Phase)
}

func TestWriterPreservesExplicitTimestamp(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)
	defer writer.Close()

	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, writer.Write(&Record{
		Timestamp: stamp, Phase: "start", Event: "done", Data: json.RawMessage(`{}`),
	}))

	records, err := ReadRecords(writer.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, stamp.Equal(records[0].Timestamp))
}

func TestWriterClosedFileReportsNoPath(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Empty(t, writer.CurrentLogFile())
}

func TestReadRecordsMissingFile(t *testing.T) {
	_, err := ReadRecords(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}
