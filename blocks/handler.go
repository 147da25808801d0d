package blocks

import "github.com/oxy-hq/oxy-engine/event"

// BlockHandler reassembles one group's flat event sequence into a tree of
// Blocks, grounded on block.rs's BlockHandler: a stack of currently-open
// block ids, a flat map of every block seen, and the root ids (blocks with
// no open parent when they started).
type BlockHandler struct {
	stack  []string
	blocks map[string]*Block
	root   []string
}

// NewBlockHandler constructs an empty handler.
func NewBlockHandler() *BlockHandler {
	return &BlockHandler{blocks: map[string]*Block{}}
}

// Collect finalizes the handler: any block still on the stack (never
// closed by a matching Finished event) is marked cancelled, matching
// block.rs's Collect behavior for abrupt process exit.
func (h *BlockHandler) Collect() (map[string]*Block, []string) {
	stillOpen := map[string]bool{}
	for _, id := range h.stack {
		stillOpen[id] = true
	}
	for id, b := range h.blocks {
		if stillOpen[id] && b.Error == "" {
			b.Error = "Cancelled"
		}
	}
	return h.blocks, h.root
}

func (h *BlockHandler) currentBlock() *Block {
	if len(h.stack) == 0 {
		return nil
	}
	return h.blocks[h.stack[len(h.stack)-1]]
}

// upsertBlock creates a block the first time its id is seen and links it
// under whatever block is currently open; a later upsert for a Text block
// appends rather than replacing, matching block.rs's text-accumulation
// behavior for ContentAdded chunks.
func (h *BlockHandler) upsertBlock(id string, kind Kind, name, text, sqlQuery, database string) {
	parentID := ""
	if len(h.stack) > 0 && h.stack[len(h.stack)-1] != id {
		parentID = h.stack[len(h.stack)-1]
	}

	if existing, ok := h.blocks[id]; ok {
		if existing.Kind == KindText && kind == KindText {
			existing.Text += text
		}
	} else {
		b := &Block{ID: id, Kind: kind, Name: name, Text: text, SQLQuery: sqlQuery, Database: database}
		h.blocks[id] = b
		alreadyStacked := false
		for _, s := range h.stack {
			if s == id {
				alreadyStacked = true
				break
			}
		}
		if !alreadyStacked {
			h.stack = append(h.stack, id)
		}
		if parentID == "" {
			h.root = append(h.root, id)
		}
	}

	if parentID != "" {
		if parent, ok := h.blocks[parentID]; ok {
			parent.Children = append(parent.Children, id)
		}
	}
}

// addGroupBlock links a nested Group's id as a child of the currently open
// block (or as a root when no block is open), recorded as a KindArtifact
// placeholder block so markdown rendering can find it by position among its
// siblings.
func (h *BlockHandler) addGroupBlock(groupID string) {
	if cur := h.currentBlock(); cur != nil {
		cur.Children = append(cur.Children, groupID)
	} else {
		h.root = append(h.root, groupID)
	}
	h.blocks[groupID] = &Block{ID: groupID, Kind: KindArtifact}
}

// finishBlock pops id off the open stack and records an error if given.
func (h *BlockHandler) finishBlock(id, errMsg string) {
	out := h.stack[:0]
	for _, s := range h.stack {
		if s != id {
			out = append(out, s)
		}
	}
	h.stack = out

	if b, ok := h.blocks[id]; ok && errMsg != "" {
		b.Error = errMsg
	}
}

// HandleEvent implements event.Handler, reacting to the subset of
// event.KindTag values block.rs's BlockHandler::handle_event covers.
func (h *BlockHandler) HandleEvent(e event.Event) error {
	switch e.Kind.Tag {
	case event.TaskStarted:
		h.upsertBlock(e.Source.ID, KindTask, e.Kind.Name, "", "", "")
	case event.TaskFinished:
		h.finishBlock(e.Source.ID, e.Kind.Error)
	case event.StepStarted:
		h.upsertBlock(e.Source.ID, KindStep, e.Kind.Name, "", "", "")
	case event.StepFinished:
		h.finishBlock(e.Source.ID, e.Kind.Error)
	case event.ContentAdded:
		h.handleContent(e, false)
	case event.ContentDone:
		h.handleContent(e, true)
		h.finishBlock(e.Source.ID, "")
	}
	return nil
}

func (h *BlockHandler) handleContent(e event.Event, _done bool) {
	switch e.Kind.ContentKind {
	case "sql":
		h.upsertBlock(e.Source.ID, KindSQL, "", "", e.Kind.Chunk, "")
	default:
		h.upsertBlock(e.Source.ID, KindText, "", e.Kind.Chunk, "", "")
	}
}

// GroupBlockHandler reassembles the outer Group tree: workflow/agentic/
// artifact spans, each owning its own inner BlockHandler for the blocks
// that occur while it is the innermost open group, grounded on block.rs's
// GroupBlockHandler.
type GroupBlockHandler struct {
	stack  []string
	inner  map[string]*BlockHandler
	groups map[string]*Group
	order  []string
}

// NewGroupBlockHandler constructs an empty handler.
func NewGroupBlockHandler() *GroupBlockHandler {
	return &GroupBlockHandler{inner: map[string]*BlockHandler{}, groups: map[string]*Group{}}
}

// Collect finalizes every group (marking any still-open ones cancelled)
// and returns them in first-started order.
func (h *GroupBlockHandler) Collect() []*Group {
	stillOpen := map[string]bool{}
	for _, id := range h.stack {
		stillOpen[id] = true
	}
	groups := make([]*Group, 0, len(h.order))
	for _, id := range h.order {
		g := h.groups[id]
		if bh, ok := h.inner[id]; ok {
			g.Blocks, g.Root = bh.Collect()
		}
		if stillOpen[id] && g.Error == "" {
			g.Error = "Cancelled"
		}
		groups = append(groups, g)
	}
	return groups
}

func (h *GroupBlockHandler) startGroup(id string, kind GroupKind, name string) {
	if cur := h.currentGroupID(); cur != "" {
		if bh, ok := h.inner[cur]; ok {
			bh.addGroupBlock(id)
		}
	}

	for _, s := range h.stack {
		if s == id {
			return // already open; matches the Rust original's no-op guard
		}
	}
	h.stack = append(h.stack, id)
	h.inner[id] = NewBlockHandler()
	h.groups[id] = &Group{ID: id, Kind: kind, Name: name}
	h.order = append(h.order, id)
}

func (h *GroupBlockHandler) endGroup(id, errMsg string) {
	out := h.stack[:0]
	for _, s := range h.stack {
		if s != id {
			out = append(out, s)
		}
	}
	h.stack = out

	if g, ok := h.groups[id]; ok && errMsg != "" {
		g.Error = errMsg
	}
}

func (h *GroupBlockHandler) currentGroupID() string {
	if len(h.stack) == 0 {
		return ""
	}
	return h.stack[len(h.stack)-1]
}

// HandleEvent implements event.Handler: lifecycle events for workflows,
// agentic runs, and artifacts open/close a Group; everything else forwards
// to the innermost open group's BlockHandler.
func (h *GroupBlockHandler) HandleEvent(e event.Event) error {
	switch e.Kind.Tag {
	case event.WorkflowStarted:
		h.startGroup(e.Source.ID, GroupWorkflow, e.Kind.Name)
	case event.WorkflowFinished:
		h.endGroup(e.Source.ID, e.Kind.Error)
	case event.AgenticStarted:
		h.startGroup(e.Source.ID, GroupAgentic, e.Kind.Name)
	case event.AgenticFinished:
		h.endGroup(e.Source.ID, e.Kind.Error)
	case event.ArtifactStarted:
		h.startGroup(e.Source.ID, GroupArtifact, e.Kind.Name)
	case event.ArtifactFinished:
		h.endGroup(e.Source.ID, e.Kind.Error)
	default:
		if cur := h.currentGroupID(); cur != "" {
			if bh, ok := h.inner[cur]; ok {
				return bh.HandleEvent(e)
			}
		}
	}
	return nil
}

var _ event.Handler = (*GroupBlockHandler)(nil)
var _ event.Handler = (*BlockHandler)(nil)
