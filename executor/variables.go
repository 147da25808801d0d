package executor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/render"
	"github.com/oxy-hq/oxy-engine/workflowdef"
)

// resolveVariables implements spec.md §4.1's variable-resolution step,
// grounded on original_source's WorkflowMapper.resolve_workflow_variables_schema
// / map (workflow.rs): each declared variable is either a plain string (a
// template rendered once to produce its default) or a JSON-schema object
// (type/default/enum/etc). Caller-supplied input values win over declared
// defaults; the merged result is then validated as a whole against the
// schema assembled from every variable declaration.
func resolveVariables(wf *workflowdef.Workflow, renderer render.Renderer, input map[string]any) (map[string]any, error) {
	raw, err := wf.RawVariables()
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]any, len(raw))
	schemaProps := make(map[string]any, len(raw))
	var required []string

	for name, rawDecl := range raw {
		var decl any
		if err := json.Unmarshal(rawDecl, &decl); err != nil {
			return nil, oxyerr.Wrap(oxyerr.ConfigurationError, err, "decode variable %q", name)
		}

		switch v := decl.(type) {
		case string:
			// A bare string declaration is a template for the variable's
			// default value, rendered once against the input map so other
			// declared defaults and the run's own input are in scope.
			value, err := renderer.RenderOnce(v, input)
			if err != nil {
				return nil, oxyerr.Wrap(oxyerr.RuntimeError, err, "render default for variable %q", name)
			}
			resolved[name] = value
		case map[string]any:
			if def, ok := v["default"]; ok {
				resolved[name] = def
			}
			schemaProps[name] = stripDefault(v)
			if isRequired, _ := v["required"].(bool); isRequired {
				required = append(required, name)
			}
		default:
			resolved[name] = v
		}
	}

	for name, value := range input {
		resolved[name] = value
	}

	if len(schemaProps) == 0 {
		return resolved, nil
	}

	schema := map[string]any{
		"type":       "object",
		"properties": schemaProps,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	if err := validateAgainstSchema(schema, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

func stripDefault(decl map[string]any) map[string]any {
	out := make(map[string]any, len(decl))
	for k, v := range decl {
		if k == "default" || k == "required" {
			continue
		}
		out[k] = v
	}
	return out
}

// validateAgainstSchema compiles an in-memory JSON schema and validates
// instance against it, surfacing failures as oxyerr.ArgumentError whose
// message carries the schema and the instance (spec.md §8 E6). The exact v6 compiler API (AddResource taking an already-decoded
// document from UnmarshalJSON, then Compile by URL) is used as documented
// best-effort against the package's published surface.
func validateAgainstSchema(schema map[string]any, instance map[string]any) error {
	const resourceURL = "oxy://workflow-variables.json"

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "marshal variable schema")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return oxyerr.Wrap(oxyerr.ConfigurationError, err, "decode variable schema")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return oxyerr.Wrap(oxyerr.ConfigurationError, err, "register variable schema")
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return oxyerr.Wrap(oxyerr.ConfigurationError, err, "compile variable schema")
	}

	instanceJSON, err := json.Marshal(instance)
	if err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "marshal variable instance")
	}
	instanceDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(instanceJSON))
	if err != nil {
		return oxyerr.Wrap(oxyerr.SerializationError, err, "decode variable instance")
	}

	if err := compiled.Validate(instanceDoc); err != nil {
		return oxyerr.Wrap(oxyerr.ArgumentError, err, "workflow variables failed validation: %s (schema: %s, instance: %s)", fmt.Sprint(err), schemaJSON, instanceJSON)
	}
	return nil
}
