// Package blocks reassembles a run's flat event stream into the
// hierarchical Block/Group tree spec.md §4.6 describes, and renders that
// tree to markdown. Grounded on original_source's
// crates/core/src/service/block.rs (BlockHandler/GroupBlockHandler) for
// the tree-building side; the markdown opener/closer shapes and the
// `:::artifact{...}` adaptive fence count are grounded on
// formatters/artifact_tracker.rs's MARKDOWN_MAX_FENCES concept, though
// artifact_tracker.rs itself is a sea_orm persistence layer for a richer
// artifact-content model (semantic queries, Omni, sandbox apps) that is
// out of SPEC_FULL.md's scope — see DESIGN.md.
package blocks

// Kind discriminates a Block's payload, one variant per event.Kind.Tag the
// block builder reacts to.
type Kind string

const (
	KindTask     Kind = "task"
	KindStep     Kind = "step"
	KindText     Kind = "text"
	KindSQL      Kind = "sql"
	KindArtifact Kind = "artifact" // a Group, not a leaf Block; see Group below
)

// Block is one leaf or container node in the reassembled tree: a task,
// step, or content span, identified by the same Source.ID its originating
// events carried.
type Block struct {
	ID       string
	Kind     Kind
	Name     string // task/step name
	Text     string // accumulated text content, appended on every ContentAdded
	SQLQuery string
	Database string
	Error    string
	Children []string // child block/group ids, in arrival order
}

// GroupKind discriminates a Group, the cross-cutting span larger than a
// single Block (spec.md §4.6).
type GroupKind string

const (
	GroupWorkflow GroupKind = "workflow"
	GroupAgentic  GroupKind = "agentic"
	GroupArtifact GroupKind = "artifact"
)

// Group is a workflow/agentic/artifact run: it owns a nested tree of Blocks
// built by its own BlockHandler, plus any Groups started while it was the
// innermost open one.
type Group struct {
	ID       string
	Kind     GroupKind
	Name     string // workflow/agent ref, or artifact name
	Error    string
	Blocks   map[string]*Block
	Root     []string // root block ids within this group
	Children []string // nested group ids, in arrival order
}
