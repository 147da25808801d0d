// Package workflowdef loads the YAML workflow definition described in
// spec.md §6 into the internal model the executor dispatches over. The
// engine never reads files itself (config.Resolver hands over raw YAML
// bytes); this package only parses and validates shape.
package workflowdef

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// TaskType discriminates a Task's variant, matching spec.md §3's tagged
// union (Agent, ExecuteSQL, LoopSequential, Formatter, Workflow, Conditional).
type TaskType string

const (
	TaskAgent         TaskType = "agent"
	TaskExecuteSQL    TaskType = "execute_sql"
	TaskLoopSequential TaskType = "loop_sequential"
	TaskFormatter     TaskType = "formatter"
	TaskWorkflow      TaskType = "workflow"
	TaskConditional   TaskType = "conditional"
)

// Cache carries the optional per-task caching directive.
type Cache struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Export carries the optional per-task export directive (e.g. persisting a
// task's output to a named file/artifact outside the run's own checkpoints).
type Export struct {
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Task is one node of a workflow's task list. Only the fields relevant to
// Type are populated by the loader; callers must switch on Type before
// reading variant-specific fields.
type Task struct {
	Name string   `yaml:"name" json:"name"`
	Type TaskType `yaml:"type" json:"type"`

	Cache  *Cache  `yaml:"cache,omitempty" json:"cache,omitempty"`
	Export *Export `yaml:"export,omitempty" json:"export,omitempty"`

	// Agent
	AgentRef       string `yaml:"agent_ref,omitempty" json:"agent_ref,omitempty"`
	Prompt         string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	ConsistencyRun int    `yaml:"consistency_run,omitempty" json:"consistency_run,omitempty"`

	// ExecuteSQL
	SQL           string `yaml:"sql,omitempty" json:"sql,omitempty"`
	Database      string `yaml:"database,omitempty" json:"database,omitempty"`
	DryRunLimit   *int   `yaml:"dry_run_limit,omitempty" json:"dry_run_limit,omitempty"`

	// LoopSequential
	Values      yaml.Node `yaml:"values,omitempty" json:"-"`
	Concurrency int       `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Tasks       []Task    `yaml:"tasks,omitempty" json:"tasks,omitempty"`

	// Formatter
	Template string `yaml:"template,omitempty" json:"template,omitempty"`

	// Workflow (sub-invocation)
	Src       string            `yaml:"src,omitempty" json:"src,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Conditional
	Condition string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	Then      []Task         `yaml:"then,omitempty" json:"then,omitempty"`
	Else      []Task         `yaml:"else,omitempty" json:"else,omitempty"`
}

// ValuesLiteral returns the loop's literal value list when Values was given
// as a YAML sequence, or ok=false when it is a template string that must be
// rendered at execution time instead.
func (t Task) ValuesLiteral() (values []json.RawMessage, ok bool, err error) {
	if t.Values.Kind == 0 {
		return nil, true, nil
	}
	if t.Values.Kind == yaml.ScalarNode {
		return nil, false, nil
	}
	var raw []json.RawMessage
	var generic []any
	if err := t.Values.Decode(&generic); err != nil {
		return nil, false, oxyerr.Wrap(oxyerr.ConfigurationError, err, "decode loop values")
	}
	for _, v := range generic {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false, oxyerr.Wrap(oxyerr.SerializationError, err, "marshal loop value")
		}
		raw = append(raw, b)
	}
	return raw, true, nil
}

// ValuesTemplate returns the loop's Values as a template string, when given
// as a scalar.
func (t Task) ValuesTemplate() (string, bool) {
	if t.Values.Kind == yaml.ScalarNode {
		return t.Values.Value, true
	}
	return "", false
}

// Retrieval carries the workflow's optional retrieval-routing configuration:
// extra prompt templates to include or exclude from the enum-routing index
// and vector store, beyond the workflow description itself.
type Retrieval struct {
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Test is a single workflow-level regression test fixture.
type Test struct {
	Name      string            `yaml:"name" json:"name"`
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Assert    string            `yaml:"assert,omitempty" json:"assert,omitempty"`
}

// Workflow is the parsed form of a workflow YAML document.
type Workflow struct {
	Name        string                     `yaml:"name" json:"name"`
	Description string                     `yaml:"description,omitempty" json:"description,omitempty"`
	Variables   map[string]yaml.Node       `yaml:"variables,omitempty" json:"-"`
	Tasks       []Task                     `yaml:"tasks" json:"tasks"`
	Retrieval   *Retrieval                 `yaml:"retrieval,omitempty" json:"retrieval,omitempty"`
	Tests       []Test                     `yaml:"tests,omitempty" json:"tests,omitempty"`
}

// Load parses raw YAML bytes into a Workflow. It does not validate variables
// against caller-supplied values; that is executor's job (it needs the
// renderer to resolve string-valued variable declarations first).
func Load(source []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(source, &wf); err != nil {
		return nil, oxyerr.Wrap(oxyerr.ConfigurationError, err, "parse workflow yaml")
	}
	if wf.Name == "" {
		return nil, oxyerr.New(oxyerr.ConfigurationError, "workflow missing required field 'name'")
	}
	for i, t := range wf.Tasks {
		if t.Name == "" {
			return nil, oxyerr.New(oxyerr.ConfigurationError, "workflow %q task[%d] missing required field 'name'", wf.Name, i)
		}
		if err := validateTaskType(t); err != nil {
			return nil, err
		}
	}
	return &wf, nil
}

func validateTaskType(t Task) error {
	switch t.Type {
	case TaskAgent, TaskExecuteSQL, TaskLoopSequential, TaskFormatter, TaskWorkflow, TaskConditional:
		return nil
	default:
		return oxyerr.New(oxyerr.ConfigurationError, "task %q has unknown type %q", t.Name, t.Type)
	}
}

// RawVariables returns the workflow's raw variable declarations as a
// name->JSON-value map, preserving whether each declaration is a plain
// string (a template to render for a derived default) versus a structured
// JSON-schema object. Executor.resolveVariables does the rendering.
func (w *Workflow) RawVariables() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(w.Variables))
	for name, node := range w.Variables {
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, oxyerr.Wrap(oxyerr.ConfigurationError, err, "decode variable %q", name)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, oxyerr.Wrap(oxyerr.SerializationError, err, "marshal variable %q", name)
		}
		out[name] = b
	}
	return out, nil
}

// String returns a human-readable identifier for error messages.
func (t Task) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, t.Type)
}
