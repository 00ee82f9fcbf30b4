package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// runStateSchema rejects unknown fields so a state file written by a
// newer incompatible version (or by something else entirely) fails on
// load instead of being silently truncated on the next save.
const runStateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["run_id", "model_set", "data_source", "completed"],
  "properties": {
    "run_id": {"type": "string", "pattern": "^[0-9a-z]{8}$"},
    "issue_number": {"type": "string"},
    "branch_name": {"type": "string"},
    "plan_file": {"type": "string"},
    "issue_class": {"enum": ["bug", "feature", "chore"]},
    "worktree_path": {"type": "string"},
    "ws_port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "fe_port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "model_set": {"enum": ["base", "heavy"]},
    "data_source": {"enum": ["forge", "board"]},
    "issue_payload": {"type": "object"},
    "linked_runs": {"type": "array", "items": {"type": "string"}},
    "patch_file": {"type": "string"},
    "patch_history": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["patch_file", "created_at"],
        "properties": {
          "patch_file": {"type": "string"},
          "reason": {"type": "string"},
          "created_at": {"type": "string"}
        }
      }
    },
    "total_cost_usd": {"type": "number", "minimum": 0},
    "completed": {"type": "boolean"},
    "version": {"type": "integer"}
  }
}`

const runStateSchemaURL = "adw://schemas/run-state.json"

var (
	compiledSchemaOnce sync.Once
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
)

func getCompiledSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(runStateSchema), &doc); err != nil {
			compiledSchemaErr = fmt.Errorf("parse run state schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(runStateSchemaURL, doc); err != nil {
			compiledSchemaErr = fmt.Errorf("add run state schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile(runStateSchemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

// validateRaw checks raw JSON against the run state schema.
func validateRaw(raw []byte) error {
	schema, err := getCompiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return nil
}
