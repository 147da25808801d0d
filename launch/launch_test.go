package launch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/checkpoint"
	"github.com/oxy-hq/oxy-engine/config"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/launch"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

const greetWorkflow = `
name: greet
tasks:
  - name: msg
    type: formatter
    template: "hello {{ name }}"
`

func newResolver(t *testing.T, name, source string) config.Resolver {
	t.Helper()
	cfg := config.NewStaticResolver()
	cfg.Workflows[name] = config.WorkflowRef{Name: name, Source: []byte(source)}
	return cfg
}

type recordingHandler struct {
	events []event.Event
}

func (h *recordingHandler) HandleEvent(e event.Event) error {
	h.events = append(h.events, e)
	return nil
}

func TestLaunch_RunsWorkflowAndWritesSuccessMarker(t *testing.T) {
	cfg := newResolver(t, "greet", greetWorkflow)
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	ex := executor.New(executor.Deps{Checkpoints: mgr})

	runner := launch.NewRunner(cfg, mgr, ex, nil)
	handler := &recordingHandler{}

	out, err := runner.Launch(context.Background(), launch.Input{
		WorkflowRef: "greet",
		Variables:   map[string]any{"name": "world"},
	}, handler)
	require.NoError(t, err)

	msg, ok := out.Map["msg"]
	require.True(t, ok)
	assert.Equal(t, "hello world", msg.Text)

	require.NotEmpty(t, handler.events)

	run, err := mgr.LastRun(checkpoint.RootID("greet"))
	require.NoError(t, err)
	assert.True(t, run.Success)
}

func TestLaunch_UnknownWorkflowPropagatesConfigurationError(t *testing.T) {
	cfg := config.NewStaticResolver()
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	ex := executor.New(executor.Deps{Checkpoints: mgr})

	runner := launch.NewRunner(cfg, mgr, ex, nil)

	_, err = runner.Launch(context.Background(), launch.Input{WorkflowRef: "missing"}, &recordingHandler{})
	require.Error(t, err)
	assert.True(t, oxyerr.Is(err, oxyerr.ConfigurationError))
}

const brokenWorkflow = `
name: broken
tasks:
  - name: q
    type: execute_sql
    sql: "SELECT 1"
    database: main
`

func TestLaunch_RetryFromLastFailureReplaysPriorEventsThenResumes(t *testing.T) {
	cfg := newResolver(t, "broken", brokenWorkflow)
	dir := t.TempDir()
	mgr, err := checkpoint.NewManager(dir)
	require.NoError(t, err)

	// First attempt: no connector resolver configured, so the SQL task
	// fails and no _SUCCESS marker is written.
	ex := executor.New(executor.Deps{Checkpoints: mgr})
	runner := launch.NewRunner(cfg, mgr, ex, nil)

	_, err = runner.Launch(context.Background(), launch.Input{WorkflowRef: "broken"}, &recordingHandler{})
	require.Error(t, err)

	rootID := checkpoint.RootID("broken")
	_, err = os.Stat(filepath.Join(dir, rootID, "0", "_SUCCESS"))
	require.True(t, os.IsNotExist(err))

	// Second attempt: fix the connector and retry the same run index; the
	// first run's events replay to the handler before the task re-executes.
	ex2 := executor.New(executor.Deps{
		Checkpoints: mgr,
		Connectors:  fakeResolver{conn: fakeConnector{}},
	})
	runner2 := launch.NewRunner(cfg, mgr, ex2, nil)
	handler := &recordingHandler{}

	out, err := runner2.Launch(context.Background(), launch.Input{
		WorkflowRef: "broken",
		Retry:       checkpoint.RetryStrategy{Kind: checkpoint.Retry, RunIndex: 0},
	}, handler)
	require.NoError(t, err)
	assert.Equal(t, container.KindMap, out.Kind)

	// The replayed events (from the failed first attempt) plus the new
	// attempt's own events both reached the handler.
	require.NotEmpty(t, handler.events)

	run, err := mgr.LastRun(rootID)
	require.NoError(t, err)
	assert.True(t, run.Success)
}

type fakeConnector struct{}

func (fakeConnector) RunQuery(ctx context.Context, sql string) (string, error) { return "", nil }
func (fakeConnector) RunQueryAndLoad(ctx context.Context, sql string) (executor.QueryResult, error) {
	return executor.QueryResult{Columns: []executor.Column{{Name: "one", Type: "int"}}, Rows: [][]any{{1.0}}}, nil
}
func (f fakeConnector) RunQueryWithLimit(ctx context.Context, sql string, limit int) (executor.QueryResult, error) {
	return f.RunQueryAndLoad(ctx, sql)
}
func (fakeConnector) ExplainQuery(ctx context.Context, sql string) (string, error) { return "", nil }
func (fakeConnector) DryRun(ctx context.Context, sql string) error                 { return nil }

type fakeResolver struct{ conn executor.Connector }

func (r fakeResolver) Connector(name string) (executor.Connector, error) { return r.conn, nil }
