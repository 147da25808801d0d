// Package checkpoint implements the run namespace, append-only event log,
// and per-task output cache described in spec.md §4.2, ported from
// original_source's crates/core/src/adapters/checkpoint.rs onto a plain
// file layout:
//
//	<root>/<root_id>/<run_id>/events.jsonl
//	<root>/<root_id>/<run_id>/data/<checkpoint_id>
//	<root>/<root_id>/<run_id>/_SUCCESS
package checkpoint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/telemetry"
)

const (
	dataDirName     = "data"
	eventsFileName  = "events.jsonl"
	successMarker   = "_SUCCESS"
)

// RunInfo identifies a single execution of a workflow root and carries the
// replay id needed by RetryStrategy{Retry}.
type RunInfo struct {
	RootID    string
	RunID     uint64
	Success   bool
	ReplayID  *string
}

// Data is the persisted body of a single task's checkpoint: the stable id
// plus the raw JSON of its output container.
type Data struct {
	CheckpointID string          `json:"checkpoint_id"`
	Output       json.RawMessage `json:"output"`
}

// RetryStrategy selects how a run resumes relative to prior runs of the
// same workflow root, per spec.md §4.2.
type RetryStrategy struct {
	Kind      RetryKind
	ReplayID  *string
	RunIndex  uint64
}

// RetryKind discriminates RetryStrategy's variant.
type RetryKind string

const (
	NoRetry     RetryKind = "no_retry"
	LastFailure RetryKind = "last_failure"
	Retry       RetryKind = "retry"
	Preview     RetryKind = "preview"
)

// Manager owns a root directory of runs and exposes run enumeration,
// checkpoint read/write, and the long-lived event-log writer.
type Manager struct {
	dir    string
	Logger telemetry.Logger
}

// NewManager constructs a Manager rooted at dir, creating it if absent. The
// Logger defaults to a no-op logger; set Manager.Logger after construction to
// observe skipped malformed events.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, oxyerr.Wrap(oxyerr.IOError, err, "create checkpoint root %q", dir)
	}
	return &Manager{dir: dir, Logger: telemetry.NewNoopLogger()}, nil
}

// FingerprintID computes the content-addressed checkpoint id for a task
// definition ⊕ rendered input: hex(fnv1a(canonical-json(task) ⊕
// canonical-json(input))), functionally equivalent to the Rust
// implementation's fxhash(task ⊕ input). FNV-1a is used because no fxhash
// port exists anywhere in the retrieved example pack (documented in
// DESIGN.md); it is only ever used for this content-address, never for
// anything resembling message framing.
func FingerprintID(task, input any) (string, error) {
	h := fnv.New64a()
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return "", oxyerr.Wrap(oxyerr.SerializationError, err, "marshal task for fingerprint")
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", oxyerr.Wrap(oxyerr.SerializationError, err, "marshal input for fingerprint")
	}
	h.Write(taskJSON)
	h.Write(inputJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RootID derives the stable checkpoint namespace for a workflow reference
// (its source path or name), per spec.md §4.2's "root_id = hash(workflow_ref)".
// It reuses the same FNV-1a digest as FingerprintID for consistency.
func RootID(workflowRef string) string {
	h := fnv.New64a()
	h.Write([]byte(workflowRef))
	return hex.EncodeToString(h.Sum(nil))
}

const tablesDirName = "tables"

// WriteTableFile materializes an ExecuteSQL task's result set under this
// run's tables directory, returning the path recorded in the resulting
// container.Table so downstream tasks and export steps can address it.
func (m *Manager) WriteTableFile(run RunInfo, name string, body []byte) (string, error) {
	dir := filepath.Join(m.runPath(run.RootID, run.RunID), tablesDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", oxyerr.Wrap(oxyerr.IOError, err, "create tables dir")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", oxyerr.Wrap(oxyerr.IOError, err, "write table file %q", name)
	}
	return path, nil
}

func (m *Manager) logger() telemetry.Logger {
	if m.Logger == nil {
		return telemetry.NewNoopLogger()
	}
	return m.Logger
}

func (m *Manager) rootPath(rootID string) string {
	return filepath.Join(m.dir, rootID)
}

func (m *Manager) runPath(rootID string, runID uint64) string {
	return filepath.Join(m.rootPath(rootID), strconv.FormatUint(runID, 10))
}

func (m *Manager) dataPath(run RunInfo) string {
	return filepath.Join(m.runPath(run.RootID, run.RunID), dataDirName)
}

// LastRun enumerates root-scoped run directories and returns the one with
// the highest numeric run id, reporting Success from _SUCCESS marker
// presence.
func (m *Manager) LastRun(rootID string) (RunInfo, error) {
	rootPath := m.rootPath(rootID)
	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return RunInfo{}, oxyerr.Wrap(oxyerr.IOError, err, "read checkpoint root %q", rootPath)
	}
	var runIDs []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		runIDs = append(runIDs, id)
	}
	if len(runIDs) == 0 {
		return RunInfo{}, oxyerr.New(oxyerr.IOError, "no runs found under root %q", rootID)
	}
	sort.Slice(runIDs, func(i, j int) bool { return runIDs[i] < runIDs[j] })
	runID := runIDs[len(runIDs)-1]
	_, err = os.Stat(filepath.Join(m.runPath(rootID, runID), successMarker))
	return RunInfo{RootID: rootID, RunID: runID, Success: err == nil}, nil
}

// CreateRun allocates a fresh run id, one past the current last run (or 0
// if none exists).
func (m *Manager) CreateRun(rootID string) (RunInfo, error) {
	if err := os.MkdirAll(m.rootPath(rootID), 0o755); err != nil {
		return RunInfo{}, oxyerr.Wrap(oxyerr.IOError, err, "create run root %q", rootID)
	}
	last, err := m.LastRun(rootID)
	runID := uint64(0)
	if err == nil {
		runID = last.RunID + 1
	}
	run := RunInfo{RootID: rootID, RunID: runID}
	if err := os.MkdirAll(m.runPath(rootID, runID), 0o755); err != nil {
		return RunInfo{}, oxyerr.Wrap(oxyerr.IOError, err, "create run directory")
	}
	if err := os.MkdirAll(m.dataPath(run), 0o755); err != nil {
		return RunInfo{}, oxyerr.Wrap(oxyerr.IOError, err, "create run data directory")
	}
	return run, nil
}

// ResolveRun implements the RetryStrategy table of spec.md §4.2.
func (m *Manager) ResolveRun(rootID string, strategy RetryStrategy) (RunInfo, error) {
	switch strategy.Kind {
	case NoRetry:
		return m.CreateRun(rootID)
	case LastFailure:
		run, err := m.LastRun(rootID)
		if err != nil {
			return RunInfo{}, err
		}
		run.ReplayID = nil
		return run, nil
	case Retry:
		run := RunInfo{RootID: rootID, RunID: strategy.RunIndex, ReplayID: strategy.ReplayID}
		_, err := os.Stat(m.runPath(rootID, strategy.RunIndex))
		if err != nil {
			return RunInfo{}, oxyerr.New(oxyerr.RuntimeError, "run with index %d not found for root %q", strategy.RunIndex, rootID)
		}
		_, serr := os.Stat(filepath.Join(m.runPath(rootID, strategy.RunIndex), successMarker))
		run.Success = serr == nil
		return run, nil
	case Preview:
		return RunInfo{RootID: rootID, RunID: 0}, nil
	default:
		return RunInfo{}, oxyerr.New(oxyerr.ConfigurationError, "unknown retry strategy %q", strategy.Kind)
	}
}

// CreateCheckpoint writes a task's output body under this run's data
// directory. At most one checkpoint per (run, checkpoint id) is ever
// written; callers are expected to check HasCheckpoint first.
func (m *Manager) CreateCheckpoint(run RunInfo, data Data) error {
	dataDir := m.dataPath(run)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "create checkpoint data dir")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "marshal checkpoint %q", data.CheckpointID)
	}
	path := filepath.Join(dataDir, data.CheckpointID)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "write checkpoint %q", data.CheckpointID)
	}
	return nil
}

// HasCheckpoint reports whether a checkpoint with the given id already
// exists in this run, without reading its body.
func (m *Manager) HasCheckpoint(run RunInfo, checkpointID string) bool {
	_, err := os.Stat(filepath.Join(m.dataPath(run), checkpointID))
	return err == nil
}

// ReadCheckpoint decodes a previously written checkpoint body. A decode or
// read failure is treated by the caller as a cache miss (spec.md §7), not
// fatal.
func (m *Manager) ReadCheckpoint(run RunInfo, checkpointID string) (Data, error) {
	path := filepath.Join(m.dataPath(run), checkpointID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, oxyerr.Wrap(oxyerr.IOError, err, "read checkpoint %q", checkpointID)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, oxyerr.Wrap(oxyerr.SerializationError, err, "decode checkpoint %q", checkpointID)
	}
	return data, nil
}

// WriteSuccessMarker touches _SUCCESS, marking the run as cleanly finished.
func (m *Manager) WriteSuccessMarker(run RunInfo) error {
	path := filepath.Join(m.runPath(run.RootID, run.RunID), successMarker)
	f, err := os.Create(path)
	if err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "write success marker")
	}
	return f.Close()
}

// ReadEvents replays a run's events.jsonl in file order, feeding each
// decoded event to handler. Used by RetryStrategy{Retry} to pre-play prior
// events before resuming (spec.md E3).
func (m *Manager) ReadEvents(ctx context.Context, run RunInfo, handler event.Handler) error {
	path := filepath.Join(m.runPath(run.RootID, run.RunID), eventsFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "read events log")
	}
	lines := splitCRLFLines(raw)
	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// malformed line: skip with a warning per spec.md §7
			// (SerializationError on event line -> skip).
			m.logger().Warn(ctx, "skipping malformed event line", "run_id", run.RunID, "root_id", run.RootID, "line", i, "error", err)
			continue
		}
		if err := handler.HandleEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func splitCRLFLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] == '\r' && raw[i+1] == '\n' {
			lines = append(lines, raw[start:i])
			start = i + 2
			i++
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}

// EventWriter is the single-writer sink for a run's event log: it appends
// every event it receives as CRLF-delimited JSON lines, serialized by the
// caller (the checkpointing layer never fans writes out across
// goroutines), matching "checkpoint writes within a run are strictly
// sequential" (spec.md §5).
type EventWriter struct {
	mu   sync.Mutex
	file *os.File
}

// NewEventWriter opens (creating/appending) the run's events.jsonl.
func (m *Manager) NewEventWriter(run RunInfo) (*EventWriter, error) {
	path := filepath.Join(m.runPath(run.RootID, run.RunID), eventsFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.IOError, err, "open events log")
	}
	return &EventWriter{file: f}, nil
}

// WriteEvent appends one event as a CRLF-terminated JSON line. Errors are
// logged by the caller but never fail the run, per spec.md §7 ("Event
// write failures are logged but never fail the run").
func (w *EventWriter) WriteEvent(ev event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	body, err := json.Marshal(ev)
	if err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "marshal event")
	}
	body = append(body, '\r', '\n')
	if _, err := w.file.Write(body); err != nil {
		return oxyerr.Wrap(oxyerr.IOError, err, "append event")
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *EventWriter) Close() error {
	return w.file.Close()
}

// HandleEvent adapts EventWriter to event.Handler so it can be driven
// directly from event.BufWriter.WriteToHandler.
func (w *EventWriter) HandleEvent(ev event.Event) error { return w.WriteEvent(ev) }
