package enumroute

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/oxy-hq/oxy-engine/enumroute/ahocorasick"
	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/telemetry"
)

const (
	binaryFileName = "enum_routing.gob"
	jsonFileName   = "enum_routing.json"
)

// Manager owns the enum-routing index's on-disk cache and the process-wide
// in-memory automaton built from it, grounded on
// enum_index/manager.rs's EnumIndexManager. rkyv's zero-copy archive format
// has no Go equivalent in the retrieved pack, so the "compact archived
// binary form" spec.md §4.4 calls for is encoding/gob instead — both are a
// fast binary serialization fallback behind the same JSON mirror, and gob
// is the teacher corpus's one binary-codec convention (see DESIGN.md).
type Manager struct {
	CachePath string
	Logger    telemetry.Logger

	mu  sync.RWMutex
	ac  *ahocorasick.Automaton
	blob EnumRoutingBlob
	ready bool
}

// NewManager constructs a Manager rooted at cachePath (the directory that
// will hold enum_routing.gob / enum_routing.json). Logger defaults to a
// no-op logger; set Manager.Logger after construction to observe per-build
// diagnostics.
func NewManager(cachePath string) *Manager {
	return &Manager{CachePath: cachePath, Logger: telemetry.NewNoopLogger()}
}

func (m *Manager) logger() telemetry.Logger {
	if m.Logger == nil {
		return telemetry.NewNoopLogger()
	}
	return m.Logger
}

func (m *Manager) binaryPath() string { return filepath.Join(m.CachePath, binaryFileName) }
func (m *Manager) jsonPath() string   { return filepath.Join(m.CachePath, jsonFileName) }

// BuildAndPersist builds a routing blob from docs/semanticEnums and writes
// both the JSON mirror and the gob archive, skipping the write entirely if
// the blob has no variables at all (spec.md §5's "Build only persists when
// the routing blob has at least one variable").
func (m *Manager) BuildAndPersist(ctx context.Context, docs []RetrievalDocument, semanticEnums []SemanticEnum) error {
	blob := BuildRoutingBlob(ctx, m.logger(), docs, semanticEnums)
	if len(blob.VarNames) == 0 {
		return nil
	}

	if err := os.MkdirAll(m.CachePath, 0o755); err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "create enum routing cache dir")
	}

	jsonBytes, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "marshal routing blob json")
	}
	if err := os.WriteFile(m.jsonPath(), jsonBytes, 0o644); err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "write routing blob json")
	}

	var gobBuf bytes.Buffer
	if err := gob.NewEncoder(&gobBuf).Encode(blob); err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "encode routing blob gob")
	}
	if err := os.WriteFile(m.binaryPath(), gobBuf.Bytes(), 0o644); err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "write routing blob gob")
	}

	return nil
}

// Init loads the cached blob (binary preferred, JSON fallback) and builds
// the in-memory Aho-Corasick automaton over it. It is safe to call once at
// process start; RenderQuery before a successful Init simply returns no
// results, matching spec.md's "index unavailable" graceful degradation.
func (m *Manager) Init() error {
	blob, err := m.loadFromCache()
	if err != nil {
		return err
	}

	ac := ahocorasick.Build(blob.Patterns)

	m.mu.Lock()
	m.blob = blob
	m.ac = ac
	m.ready = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) loadFromCache() (EnumRoutingBlob, error) {
	if _, err := os.Stat(m.binaryPath()); err == nil {
		blob, loadErr := m.tryLoadBinary()
		if loadErr == nil {
			return blob, nil
		}
		// Binary archive corrupt or from an incompatible version: fall
		// back to the JSON mirror rather than failing outright.
		return m.tryLoadJSON()
	}
	return m.tryLoadJSON()
}

func (m *Manager) tryLoadBinary() (EnumRoutingBlob, error) {
	data, err := os.ReadFile(m.binaryPath())
	if err != nil {
		return EnumRoutingBlob{}, oxyerr.Wrap(oxyerr.IOError, err, "read routing blob gob")
	}
	var blob EnumRoutingBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return EnumRoutingBlob{}, oxyerr.Wrap(oxyerr.SerializationError, err, "decode routing blob gob")
	}
	return blob, nil
}

func (m *Manager) tryLoadJSON() (EnumRoutingBlob, error) {
	data, err := os.ReadFile(m.jsonPath())
	if err != nil {
		return EnumRoutingBlob{}, oxyerr.Wrap(oxyerr.IOError, err, "read routing blob json")
	}
	var blob EnumRoutingBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return EnumRoutingBlob{}, oxyerr.Wrap(oxyerr.SerializationError, err, "parse routing blob json")
	}
	return blob, nil
}

// RenderQuery is the facade callers use at retrieval time: given a query
// string, it returns every rendered retrieval template the enum index
// matched, or an empty slice (never an error) if the index was never
// initialized or no enum matched — retrieval degrades to pure vector/FTS
// in both cases, per spec.md §4.4's "Cache files" note.
func (m *Manager) RenderQuery(query string) []RenderedRetrievalTemplate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return nil
	}
	return Render(m.ac, m.blob, query)
}
