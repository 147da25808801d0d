package blocks_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/blocks"
	"github.com/oxy-hq/oxy-engine/event"
)

func started(id string, tag event.KindTag, name string) event.Event {
	return event.Event{Source: event.Source{ID: id}, Kind: event.Kind{Tag: tag, Name: name}}
}

func finished(id string, tag event.KindTag, errMsg string) event.Event {
	return event.Event{Source: event.Source{ID: id}, Kind: event.Kind{Tag: tag, Error: errMsg}}
}

func content(id string, chunk, contentKind string, done bool) event.Event {
	tag := event.ContentAdded
	if done {
		tag = event.ContentDone
	}
	return event.Event{Source: event.Source{ID: id}, Kind: event.Kind{Tag: tag, Chunk: chunk, ContentKind: contentKind}}
}

func TestBlockHandler_TextAccumulatesAcrossContentAdded(t *testing.T) {
	h := blocks.NewBlockHandler()
	require.NoError(t, h.HandleEvent(content("c1", "hello ", "", false)))
	require.NoError(t, h.HandleEvent(content("c1", "world", "", false)))
	require.NoError(t, h.HandleEvent(content("c1", "", "", true)))

	all, root := h.Collect()
	require.Len(t, root, 1)
	assert.Equal(t, "hello world", all[root[0]].Text)
	assert.Equal(t, blocks.KindText, all[root[0]].Kind)
}

func TestBlockHandler_TaskStepNesting(t *testing.T) {
	h := blocks.NewBlockHandler()
	require.NoError(t, h.HandleEvent(started("task1", event.TaskStarted, "build report")))
	require.NoError(t, h.HandleEvent(started("step1", event.StepStarted, "fetch data")))
	require.NoError(t, h.HandleEvent(content("c1", "select 1", "sql", false)))
	require.NoError(t, h.HandleEvent(content("c1", "", "sql", true)))
	require.NoError(t, h.HandleEvent(finished("step1", event.StepFinished, "")))
	require.NoError(t, h.HandleEvent(finished("task1", event.TaskFinished, "")))

	all, root := h.Collect()
	require.Len(t, root, 1)
	task := all[root[0]]
	assert.Equal(t, blocks.KindTask, task.Kind)
	require.Len(t, task.Children, 1)
	step := all[task.Children[0]]
	assert.Equal(t, blocks.KindStep, step.Kind)
	require.Len(t, step.Children, 1)
	sqlBlock := all[step.Children[0]]
	assert.Equal(t, blocks.KindSQL, sqlBlock.Kind)
	assert.Equal(t, "select 1", sqlBlock.SQLQuery)
}

func TestBlockHandler_CollectCancelsStillOpenBlocks(t *testing.T) {
	h := blocks.NewBlockHandler()
	require.NoError(t, h.HandleEvent(started("task1", event.TaskStarted, "unfinished")))

	all, root := h.Collect()
	require.Len(t, root, 1)
	assert.Equal(t, "Cancelled", all[root[0]].Error)
}

func TestGroupBlockHandler_WorkflowWithNestedArtifact(t *testing.T) {
	h := blocks.NewGroupBlockHandler()
	require.NoError(t, h.HandleEvent(started("wf1", event.WorkflowStarted, "daily_report")))
	require.NoError(t, h.HandleEvent(started("task1", event.TaskStarted, "run query")))
	require.NoError(t, h.HandleEvent(started("artifact1", event.ArtifactStarted, "result_table")))
	require.NoError(t, h.HandleEvent(content("c1", "row data", "", false)))
	require.NoError(t, h.HandleEvent(content("c1", "", "", true)))
	require.NoError(t, h.HandleEvent(finished("artifact1", event.ArtifactFinished, "")))
	require.NoError(t, h.HandleEvent(finished("task1", event.TaskFinished, "")))
	require.NoError(t, h.HandleEvent(finished("wf1", event.WorkflowFinished, "")))

	groups := h.Collect()
	require.Len(t, groups, 2)

	byID := map[string]*blocks.Group{}
	for _, g := range groups {
		byID[g.ID] = g
	}
	wf := byID["wf1"]
	require.NotNil(t, wf)
	require.Len(t, wf.Root, 1)
	task := wf.Blocks[wf.Root[0]]
	require.Len(t, task.Children, 1)
	assert.Equal(t, blocks.KindArtifact, wf.Blocks[task.Children[0]].Kind)
	assert.Equal(t, "artifact1", wf.Blocks[task.Children[0]].ID)

	artifact := byID["artifact1"]
	require.NotNil(t, artifact)
	assert.Equal(t, blocks.GroupArtifact, artifact.Kind)
	require.Len(t, artifact.Root, 1)
	assert.Equal(t, "row data", artifact.Blocks[artifact.Root[0]].Text)
}

func TestGroupBlockHandler_CollectCancelsStillOpenGroups(t *testing.T) {
	h := blocks.NewGroupBlockHandler()
	require.NoError(t, h.HandleEvent(started("wf1", event.WorkflowStarted, "stuck")))

	groups := h.Collect()
	require.Len(t, groups, 1)
	assert.Equal(t, "Cancelled", groups[0].Error)
}

func TestRenderForest_WorkflowTaskAndSQL(t *testing.T) {
	h := blocks.NewGroupBlockHandler()
	require.NoError(t, h.HandleEvent(started("wf1", event.WorkflowStarted, "daily_report")))
	require.NoError(t, h.HandleEvent(started("task1", event.TaskStarted, "run query")))
	require.NoError(t, h.HandleEvent(content("c1", "select 1", "sql", false)))
	require.NoError(t, h.HandleEvent(content("c1", "", "sql", true)))
	require.NoError(t, h.HandleEvent(finished("task1", event.TaskFinished, "")))
	require.NoError(t, h.HandleEvent(finished("wf1", event.WorkflowFinished, "")))

	md := blocks.RenderForest(h.Collect())
	assert.Contains(t, md, "<summary>workflow: daily_report</summary>")
	assert.Contains(t, md, "<summary>task: run query</summary>")
	assert.Contains(t, md, "```sql\nselect 1\n```")
}

func TestRenderForest_NestedArtifactFencesDoNotCollide(t *testing.T) {
	h := blocks.NewGroupBlockHandler()
	require.NoError(t, h.HandleEvent(started("wf1", event.WorkflowStarted, "wrap")))
	require.NoError(t, h.HandleEvent(started("outer", event.ArtifactStarted, "outer_artifact")))
	require.NoError(t, h.HandleEvent(started("inner", event.ArtifactStarted, "inner_artifact")))
	require.NoError(t, h.HandleEvent(content("c1", "leaf text", "", false)))
	require.NoError(t, h.HandleEvent(content("c1", "", "", true)))
	require.NoError(t, h.HandleEvent(finished("inner", event.ArtifactFinished, "")))
	require.NoError(t, h.HandleEvent(finished("outer", event.ArtifactFinished, "")))
	require.NoError(t, h.HandleEvent(finished("wf1", event.WorkflowFinished, "")))

	md := blocks.RenderForest(h.Collect())
	assert.Contains(t, md, "\n"+`::::artifact{id="outer" kind="artifact" title="outer_artifact" is_verified=true}`)
	assert.Contains(t, md, "\n"+`:::artifact{id="inner" kind="artifact" title="inner_artifact" is_verified=true}`)

	outerFence := strings.Count(strings.SplitN(md, "artifact{id=\"outer\"", 2)[0], ":")
	innerFence := strings.Count(strings.SplitN(md, "artifact{id=\"inner\"", 2)[0], ":") -
		strings.Count(strings.SplitN(md, "artifact{id=\"outer\"", 2)[0], ":")
	assert.Greater(t, innerFence, 0)
	_ = outerFence
}
