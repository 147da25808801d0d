package workflowdef_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/workflowdef"
)

const salesReportYAML = `
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
    template: "Region {{ region }} had {{ q }} sales."
`

func TestLoad_E1SalesReport(t *testing.T) {
	wf, err := workflowdef.Load([]byte(salesReportYAML))
	require.NoError(t, err)
	assert.Equal(t, "sales_report", wf.Name)
	require.Len(t, wf.Tasks, 2)
	assert.Equal(t, workflowdef.TaskExecuteSQL, wf.Tasks[0].Type)
	assert.Equal(t, "main", wf.Tasks[0].Database)
	assert.Equal(t, workflowdef.TaskFormatter, wf.Tasks[1].Type)

	raw, err := wf.RawVariables()
	require.NoError(t, err)
	assert.Contains(t, raw, "region")
}

func TestLoad_MissingName(t *testing.T) {
	_, err := workflowdef.Load([]byte("tasks: []\n"))
	assert.Error(t, err)
}

func TestLoad_UnknownTaskType(t *testing.T) {
	_, err := workflowdef.Load([]byte("name: w\ntasks:\n  - name: t\n    type: bogus\n"))
	assert.Error(t, err)
}

func TestLoad_LoopValues(t *testing.T) {
	wf, err := workflowdef.Load([]byte(`
name: loop_wf
tasks:
  - name: l
    type: loop_sequential
    concurrency: 2
    values: [1, 2, 3]
    tasks:
      - name: inner
        type: formatter
        template: "{{ value }}"
`))
	require.NoError(t, err)
	literal, ok, err := wf.Tasks[0].ValuesLiteral()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, literal, 3)
}

func TestLoad_LoopValuesTemplate(t *testing.T) {
	wf, err := workflowdef.Load([]byte(`
name: loop_wf
tasks:
  - name: l
    type: loop_sequential
    values: "{{ items }}"
    tasks:
      - name: inner
        type: formatter
        template: "{{ value }}"
`))
	require.NoError(t, err)
	_, ok, err := wf.Tasks[0].ValuesLiteral()
	require.NoError(t, err)
	assert.False(t, ok)
	tmpl, ok := wf.Tasks[0].ValuesTemplate()
	assert.True(t, ok)
	assert.Equal(t, "{{ items }}", tmpl)
}
