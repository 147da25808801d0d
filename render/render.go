// Package render defines the template-rendering boundary the engine
// delegates to. The engine never hard-codes a specific templating engine;
// Renderer is the interface every component (workflow executor, agent
// prompts, enum-routing templates) renders through, and MugoRenderer below
// is the default Jinja-compatible implementation shipped for embedding and
// tests.
package render

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/templatex"

	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Renderer renders template strings against a mutable context. The
// workflow executor refreshes the context after every task; templates
// later in the chain see earlier tasks' outputs.
type Renderer interface {
	// Render renders content against the renderer's current context.
	Render(content string) (string, error)
	// RenderOnce renders content against an explicit, one-off context
	// without mutating the renderer's own context.
	RenderOnce(content string, ctx map[string]any) (string, error)
	// Context returns a snapshot of the current rendering context.
	Context() map[string]any
	// WithContext returns a new Renderer whose context is merged with
	// updates (updates take precedence on key conflicts).
	WithContext(updates map[string]any) Renderer
}

// MugoRenderer implements Renderer using github.com/rytsh/mugo's Go
// template dialect and function registry.
type MugoRenderer struct {
	mu  sync.RWMutex
	ctx map[string]any
}

// NewMugoRenderer constructs a MugoRenderer seeded with ctx (may be nil).
func NewMugoRenderer(ctx map[string]any) *MugoRenderer {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &MugoRenderer{ctx: ctx}
}

func (r *MugoRenderer) Context() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.ctx))
	for k, v := range r.ctx {
		out[k] = v
	}
	return out
}

func (r *MugoRenderer) WithContext(updates map[string]any) Renderer {
	merged := r.Context()
	for k, v := range updates {
		merged[k] = v
	}
	return NewMugoRenderer(merged)
}

func (r *MugoRenderer) Render(content string) (string, error) {
	return r.RenderOnce(content, r.Context())
}

func (r *MugoRenderer) RenderOnce(content string, ctx map[string]any) (string, error) {
	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithLog(slog.Default()),
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
	)

	var buf bytes.Buffer
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(content),
		templatex.WithData(ctx),
	); err != nil {
		return "", oxyerr.Wrap(oxyerr.RuntimeError, err, "render template")
	}
	return buf.String(), nil
}

// JSONView returns a JSON-serializable snapshot of the renderer's context,
// the form the template engine and checkpoint bodies both consume.
func JSONView(r Renderer) (json.RawMessage, error) {
	raw, err := json.Marshal(r.Context())
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.SerializationError, err, "marshal render context")
	}
	return raw, nil
}
