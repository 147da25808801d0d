package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/checkpoint"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/telemetry"
	"github.com/oxy-hq/oxy-engine/workflowdef"
)

type fakeConnector struct {
	columns []executor.Column
	rows    [][]any
}

func (f fakeConnector) RunQuery(ctx context.Context, sql string) (string, error) { return "", nil }
func (f fakeConnector) RunQueryAndLoad(ctx context.Context, sql string) (executor.QueryResult, error) {
	return executor.QueryResult{Columns: f.columns, Rows: f.rows}, nil
}
func (f fakeConnector) RunQueryWithLimit(ctx context.Context, sql string, limit int) (executor.QueryResult, error) {
	return f.RunQueryAndLoad(ctx, sql)
}
func (f fakeConnector) ExplainQuery(ctx context.Context, sql string) (string, error) { return "", nil }
func (f fakeConnector) DryRun(ctx context.Context, sql string) error                 { return nil }

type fakeConnectorResolver struct {
	conn executor.Connector
}

func (r fakeConnectorResolver) Connector(name string) (executor.Connector, error) {
	return r.conn, nil
}

func newBufferedWriter(t *testing.T) (event.Writer, func()) {
	t.Helper()
	buf := event.NewBufWriter(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.WriteToHandler(context.Background(), event.HandlerFunc(func(e event.Event) error { return nil }))
	}()
	return buf.CreateWriter("workflow", ""), func() {
		buf.Close()
		<-done
	}
}

const e1YAML = `
name: sales_report
variables:
  region:
    type: string
    default: "us"
tasks:
  - name: q
    type: execute_sql
    sql: "SELECT count(*) FROM sales WHERE region='{{ region }}'"
    database: main
  - name: msg
    type: formatter
    template: "Region {{ region }} had {{ q.RowCount }} sales."
`

func TestExecute_E1SalesReport(t *testing.T) {
	wf, err := workflowdef.Load([]byte(e1YAML))
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun(checkpoint.RootID("sales_report"))
	require.NoError(t, err)

	conn := fakeConnector{
		columns: []executor.Column{{Name: "count", Type: "int"}},
		rows:    [][]any{{42.0}},
	}
	ex := executor.New(executor.Deps{
		Connectors:  fakeConnectorResolver{conn: conn},
		Checkpoints: mgr,
	})

	writer, done := newBufferedWriter(t)
	defer done()

	out, err := ex.Execute(context.Background(), wf, run, writer, nil)
	require.NoError(t, err)
	assert.Equal(t, container.KindMap, out.Kind)

	msg, ok := out.Map["msg"]
	require.True(t, ok)
	assert.Equal(t, container.KindText, msg.Kind)
	assert.Equal(t, "Region us had 1 sales.", msg.Text)

	q, ok := out.Map["q"]
	require.True(t, ok)
	assert.Equal(t, container.KindTable, q.Kind)
	assert.Equal(t, 1, q.Table.RowCount)
}

const e2LoopYAML = `
name: loop_wf
tasks:
  - name: l
    type: loop_sequential
    concurrency: 2
    values: [1, 2, 3]
    tasks:
      - name: doubled
        type: formatter
        template: "{{ value }}"
`

func TestExecute_E2LoopPreservesOrder(t *testing.T) {
	wf, err := workflowdef.Load([]byte(e2LoopYAML))
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun(checkpoint.RootID("loop_wf"))
	require.NoError(t, err)

	ex := executor.New(executor.Deps{Checkpoints: mgr})
	writer, done := newBufferedWriter(t)
	defer done()

	out, err := ex.Execute(context.Background(), wf, run, writer, nil)
	require.NoError(t, err)

	loopOut, ok := out.Map["l"]
	require.True(t, ok)
	require.Equal(t, container.KindList, loopOut.Kind)
	require.Len(t, loopOut.List, 3)

	for i, item := range loopOut.List {
		inner, ok := item.Map["doubled"]
		require.True(t, ok)
		assert.Equal(t, container.KindText, inner.Kind)
		assert.Contains(t, inner.Text, []string{"1", "2", "3"}[i])
	}
}

func TestExecute_E2LoopEventsCarryIterationIndex(t *testing.T) {
	wf, err := workflowdef.Load([]byte(e2LoopYAML))
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun(checkpoint.RootID("loop_wf_indices"))
	require.NoError(t, err)

	ex := executor.New(executor.Deps{Checkpoints: mgr})

	buf := event.NewBufWriter(64)
	var seen []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.WriteToHandler(context.Background(), event.HandlerFunc(func(e event.Event) error {
			if e.Kind.IterationIndex != nil {
				seen = append(seen, *e.Kind.IterationIndex)
			}
			return nil
		}))
	}()
	writer := buf.CreateWriter("workflow", "")

	_, err = ex.Execute(context.Background(), wf, run, writer, nil)
	require.NoError(t, err)
	buf.Close()
	<-done

	// Each iteration emits TaskStarted, its formatter's Message and
	// TaskFinished, all stamped with that iteration's index.
	assert.ElementsMatch(t, []int{0, 0, 0, 1, 1, 1, 2, 2, 2}, seen)
}

// TestExecute_ClueTelemetryFlowsThroughDispatch exercises the
// Clue/OpenTelemetry-backed Logger, Metrics and Tracer through a real task
// dispatch, rather than leaving them only reachable from telemetry's own
// package.
func TestExecute_ClueTelemetryFlowsThroughDispatch(t *testing.T) {
	wf, err := workflowdef.Load([]byte(e1YAML))
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun(checkpoint.RootID("sales_report_clue"))
	require.NoError(t, err)

	conn := fakeConnector{
		columns: []executor.Column{{Name: "count", Type: "int"}},
		rows:    [][]any{{42.0}},
	}
	ex := executor.New(executor.Deps{
		Connectors:  fakeConnectorResolver{conn: conn},
		Checkpoints: mgr,
		Logger:      telemetry.NewClueLogger(),
		Metrics:     telemetry.NewClueMetrics(),
		Tracer:      telemetry.NewClueTracer(),
	})

	writer, done := newBufferedWriter(t)
	defer done()

	out, err := ex.Execute(context.Background(), wf, run, writer, nil)
	require.NoError(t, err)
	assert.Equal(t, container.KindMap, out.Kind)
}

const e6InvalidYAML = `
name: needs_region
variables:
  region:
    type: string
    required: true
tasks:
  - name: q
    type: formatter
    template: "region is {{ region }}"
`

func TestExecute_E6RejectsMissingRequiredVariable(t *testing.T) {
	wf, err := workflowdef.Load([]byte(e6InvalidYAML))
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	run, err := mgr.CreateRun(checkpoint.RootID("needs_region"))
	require.NoError(t, err)

	ex := executor.New(executor.Deps{Checkpoints: mgr})
	writer, done := newBufferedWriter(t)
	defer done()

	_, err = ex.Execute(context.Background(), wf, run, writer, map[string]any{})
	require.Error(t, err)
}

const conditionalYAML = `
name: conditional_wf
tasks:
  - name: c
    type: conditional
    condition: "{{ flag }}"
    then:
      - name: yes
        type: formatter
        template: "yes branch"
    else:
      - name: no
        type: formatter
        template: "no branch"
`

func TestExecute_ConditionalBranches(t *testing.T) {
	wf, err := workflowdef.Load([]byte(conditionalYAML))
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)

	ex := executor.New(executor.Deps{Checkpoints: mgr})

	run, err := mgr.CreateRun(checkpoint.RootID("conditional_wf_true"))
	require.NoError(t, err)
	writer, done := newBufferedWriter(t)
	defer done()
	out, err := ex.Execute(context.Background(), wf, run, writer, map[string]any{"flag": "true"})
	require.NoError(t, err)
	c := out.Map["c"]
	assert.Equal(t, "yes branch", c.Map["yes"].Text)

	run2, err := mgr.CreateRun(checkpoint.RootID("conditional_wf_false"))
	require.NoError(t, err)
	writer2, done2 := newBufferedWriter(t)
	defer done2()
	out2, err := ex.Execute(context.Background(), wf, run2, writer2, map[string]any{"flag": "false"})
	require.NoError(t, err)
	c2 := out2.Map["c"]
	assert.Equal(t, "no branch", c2.Map["no"].Text)
}
