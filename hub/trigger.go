package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/c360studio/adw/notify"
)

// triggerSchema validates trigger_workflow payloads before the request
// reaches the engine. workflow_type values mirror the pipeline registry.
const triggerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["workflow_type"],
  "properties": {
    "workflow_type": {
      "enum": [
        "plan", "patch", "build", "test", "review", "document", "ship",
        "plan_build", "plan_build_test", "plan_build_test_review",
        "sdlc", "sdlc_zte"
      ]
    },
    "run_id": {"type": "string", "pattern": "^[0-9a-z]{8}$"},
    "issue_number": {"type": "string", "pattern": "^[0-9]+$"},
    "model_set": {"enum": ["base", "heavy"]},
    "trigger_reason": {"type": "string", "maxLength": 2048},
    "board_data": {"type": "object"}
  }
}`

const triggerSchemaURL = "adw://schemas/trigger-request.json"

var (
	triggerSchemaOnce     sync.Once
	compiledTriggerSchema *jsonschema.Schema
	triggerSchemaErr      error
)

func getTriggerSchema() (*jsonschema.Schema, error) {
	triggerSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(triggerSchema), &doc); err != nil {
			triggerSchemaErr = fmt.Errorf("parse trigger schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(triggerSchemaURL, doc); err != nil {
			triggerSchemaErr = fmt.Errorf("add trigger schema: %w", err)
			return
		}
		compiledTriggerSchema, triggerSchemaErr = compiler.Compile(triggerSchemaURL)
	})
	return compiledTriggerSchema, triggerSchemaErr
}

// validateTrigger checks a trigger_workflow payload against the schema
// and decodes it. Dependent-phase requests (anything other than a plan
// entry) must carry a run_id; that rule lives in the engine, not here.
func validateTrigger(data json.RawMessage) (*notify.TriggerRequest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("trigger_workflow requires a data payload")
	}
	schema, err := getTriggerSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("trigger_workflow payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid trigger_workflow payload: %v", err)
	}
	var req notify.TriggerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode trigger_workflow payload: %w", err)
	}
	return &req, nil
}
