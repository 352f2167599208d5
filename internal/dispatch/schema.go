package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// stateSchema describes a partial light state write (Hue API v1).
const stateSchema = `{
  "type": "object",
  "minProperties": 1,
  "additionalProperties": false,
  "properties": {
    "on":             {"type": "boolean"},
    "bri":            {"type": "integer", "minimum": 0, "maximum": 254},
    "hue":            {"type": "integer", "minimum": 0, "maximum": 65535},
    "sat":            {"type": "integer", "minimum": 0, "maximum": 254},
    "xy":             {"type": "array", "minItems": 2, "maxItems": 2,
                       "items": {"type": "number", "minimum": 0, "maximum": 1}},
    "ct":             {"type": "integer", "minimum": 153, "maximum": 500},
    "alert":          {"enum": ["none", "select", "lselect"]},
    "effect":         {"enum": ["none", "colorloop"]},
    "transitiontime": {"type": "integer", "minimum": 0, "maximum": 65535}
  }
}`

// stateValidator checks SET_LIGHT_STATE payloads before they reach the bridge.
type stateValidator struct {
	schema *jsonschema.Schema
}

func newStateValidator() (*stateValidator, error) {
	var doc any
	if err := json.Unmarshal([]byte(stateSchema), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("state.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	compiled, err := c.Compile("state.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}
	return &stateValidator{schema: compiled}, nil
}

func (v *stateValidator) Validate(raw json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return v.schema.Validate(inst)
}
