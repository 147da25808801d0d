package blocks

import (
	"fmt"
	"strings"
)

// minFence is the shortest fence marker markdown recognizes.
const minFence = 3

// RenderForest renders every Group returned by a GroupBlockHandler's
// Collect, in first-started order, to markdown: workflow/agentic groups and
// task/step/sql blocks use `<details><summary>`; artifact groups use a fenced
// `:::artifact{id kind title is_verified}` block. A nested artifact's fence
// is always one longer than the longest fence anywhere inside it, so an
// artifact block can never be mistaken for its parent's closing fence.
func RenderForest(groups []*Group) string {
	byID := make(map[string]*Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	var b strings.Builder
	for _, g := range topLevelGroups(groups, byID) {
		renderGroup(&b, g, byID, minFence)
	}
	return b.String()
}

// topLevelGroups returns every group never referenced as a nested
// KindArtifact placeholder block by another group, i.e. the forest's roots.
func topLevelGroups(groups []*Group, byID map[string]*Group) []*Group {
	referenced := map[string]bool{}
	for _, g := range groups {
		for _, blk := range g.Blocks {
			if blk.Kind == KindArtifact {
				referenced[blk.ID] = true
			}
		}
	}
	roots := make([]*Group, 0, len(groups))
	for _, g := range groups {
		if !referenced[g.ID] {
			roots = append(roots, g)
		}
	}
	return roots
}

func renderGroup(b *strings.Builder, g *Group, byID map[string]*Group, fence int) {
	switch g.Kind {
	case GroupWorkflow, GroupAgentic:
		label := string(g.Kind)
		if g.Name != "" {
			label = fmt.Sprintf("%s: %s", label, g.Name)
		}
		fmt.Fprintf(b, "<details>\n<summary>%s</summary>\n\n", label)
		renderBlocks(b, g, g.Root, byID, fence)
		if g.Error != "" {
			fmt.Fprintf(b, "\n> error: %s\n", g.Error)
		}
		b.WriteString("\n</details>\n")
	case GroupArtifact:
		f := requiredFence(g, byID, fence)
		marker := strings.Repeat(":", f)
		fmt.Fprintf(b, "%sartifact{id=%q kind=%q title=%q is_verified=%v}\n", marker, g.ID, g.Kind, g.Name, g.Error == "")
		renderBlocks(b, g, g.Root, byID, fence)
		if g.Error != "" {
			fmt.Fprintf(b, "\n> error: %s\n", g.Error)
		}
		fmt.Fprintf(b, "%s\n", marker)
	}
}

// requiredFence returns a fence length strictly greater than any fence g's
// own deepest nested artifact group will need, so a parent's closing
// marker never collides with a child's.
func requiredFence(g *Group, byID map[string]*Group, floor int) int {
	max := floor
	for _, blk := range g.Blocks {
		if blk.Kind != KindArtifact {
			continue
		}
		nested, ok := byID[blk.ID]
		if !ok {
			continue
		}
		if need := requiredFence(nested, byID, floor) + 1; need > max {
			max = need
		}
	}
	return max
}

func renderBlocks(b *strings.Builder, g *Group, ids []string, byID map[string]*Group, fence int) {
	for _, id := range ids {
		blk, ok := g.Blocks[id]
		if !ok {
			continue
		}
		renderBlock(b, g, blk, byID, fence)
	}
}

func renderBlock(b *strings.Builder, g *Group, blk *Block, byID map[string]*Group, fence int) {
	switch blk.Kind {
	case KindTask, KindStep:
		label := string(blk.Kind)
		if blk.Name != "" {
			label = fmt.Sprintf("%s: %s", label, blk.Name)
		}
		fmt.Fprintf(b, "<details>\n<summary>%s</summary>\n\n", label)
		renderBlocks(b, g, blk.Children, byID, fence)
		if blk.Error != "" {
			fmt.Fprintf(b, "\n> error: %s\n", blk.Error)
		}
		b.WriteString("\n</details>\n")
	case KindText:
		b.WriteString(blk.Text)
		b.WriteString("\n")
	case KindSQL:
		label := "sql"
		if blk.Database != "" {
			label = fmt.Sprintf("%s: %s", label, blk.Database)
		}
		fmt.Fprintf(b, "<details>\n<summary>%s</summary>\n\n```sql\n%s\n```\n\n</details>\n", label, blk.SQLQuery)
	case KindArtifact:
		if nested, ok := byID[blk.ID]; ok {
			renderGroup(b, nested, byID, fence)
		}
	}
}
