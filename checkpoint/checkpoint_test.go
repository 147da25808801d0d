package checkpoint_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/checkpoint"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/telemetry"
)

func TestCreateRun_IncrementsFromLastRun(t *testing.T) {
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)

	first, err := mgr.CreateRun("root-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.RunID)

	second, err := mgr.CreateRun("root-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.RunID)
}

func TestLastRun_ReportsSuccessFromMarker(t *testing.T) {
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)

	run, err := mgr.CreateRun("root-b")
	require.NoError(t, err)

	last, err := mgr.LastRun("root-b")
	require.NoError(t, err)
	assert.False(t, last.Success)

	require.NoError(t, mgr.WriteSuccessMarker(run))
	last, err = mgr.LastRun("root-b")
	require.NoError(t, err)
	assert.True(t, last.Success)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun("root-c")
	require.NoError(t, err)

	id, err := checkpoint.FingerprintID(map[string]string{"name": "q"}, map[string]any{"region": "us"})
	require.NoError(t, err)

	require.False(t, mgr.HasCheckpoint(run, id))
	require.NoError(t, mgr.CreateCheckpoint(run, checkpoint.Data{CheckpointID: id, Output: json.RawMessage(`{"kind":"text","text":"3"}`)}))
	assert.True(t, mgr.HasCheckpoint(run, id))

	data, err := mgr.ReadCheckpoint(run, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"text","text":"3"}`, string(data.Output))
}

func TestFingerprintID_Stable(t *testing.T) {
	task := map[string]string{"name": "q", "type": "execute_sql"}
	input := map[string]any{"region": "us"}

	a, err := checkpoint.FingerprintID(task, input)
	require.NoError(t, err)
	b, err := checkpoint.FingerprintID(task, input)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := checkpoint.FingerprintID(task, map[string]any{"region": "eu"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEventWriter_AppendsCRLFLines(t *testing.T) {
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun("root-d")
	require.NoError(t, err)

	w, err := mgr.NewEventWriter(run)
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(event.Event{Source: event.Source{ID: "a"}, Kind: event.Kind{Tag: event.Started}}))
	require.NoError(t, w.WriteEvent(event.Event{Source: event.Source{ID: "b"}, Kind: event.Kind{Tag: event.Finished}}))
	require.NoError(t, w.Close())

	var seen []string
	err = mgr.ReadEvents(context.Background(), run, event.HandlerFunc(func(e event.Event) error {
		seen = append(seen, e.Source.ID)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

// TestReadEvents_MalformedLineLogsAndSkips exercises the
// Clue/OpenTelemetry-backed Logger through the malformed-event-line warning
// path, rather than leaving telemetry.NewClueLogger reachable only from
// telemetry's own package.
func TestReadEvents_MalformedLineLogsAndSkips(t *testing.T) {
	dir := t.TempDir()
	mgr, err := checkpoint.NewManager(dir)
	require.NoError(t, err)
	mgr.Logger = telemetry.NewClueLogger()

	run, err := mgr.CreateRun("root-g")
	require.NoError(t, err)

	w, err := mgr.NewEventWriter(run)
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(event.Event{Source: event.Source{ID: "a"}, Kind: event.Kind{Tag: event.Started}}))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "root-g", "0", "events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\r\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var seen []string
	err = mgr.ReadEvents(context.Background(), run, event.HandlerFunc(func(e event.Event) error {
		seen = append(seen, e.Source.ID)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, seen)
}

func TestResolveRun_NoRetryAlwaysFresh(t *testing.T) {
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.ResolveRun("root-e", checkpoint.RetryStrategy{Kind: checkpoint.NoRetry})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), run.RunID)

	run2, err := mgr.ResolveRun("root-e", checkpoint.RetryStrategy{Kind: checkpoint.NoRetry})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), run2.RunID)
}

func TestResolveRun_LastFailureReusesRun(t *testing.T) {
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	created, err := mgr.CreateRun("root-f")
	require.NoError(t, err)

	run, err := mgr.ResolveRun("root-f", checkpoint.RetryStrategy{Kind: checkpoint.LastFailure})
	require.NoError(t, err)
	assert.Equal(t, created.RunID, run.RunID)
	assert.False(t, run.Success)
}
