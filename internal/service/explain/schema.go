package explain

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// bundleSchemaJSON is the contract the model's output must satisfy. Kept
// strict: closed type set, 3 to 7 bullets, no empty strings.
const bundleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["bullets", "why_not_next_best"],
  "properties": {
    "bullets": {
      "type": "array",
      "minItems": 3,
      "maxItems": 7,
      "items": {
        "type": "object",
        "required": ["type", "text", "time_window", "source"],
        "properties": {
          "type": {
            "enum": ["recent_resolution", "on_call", "low_load", "similar_incident", "fit_score", "general"]
          },
          "text": {"type": "string", "minLength": 1},
          "time_window": {"type": "string", "minLength": 1},
          "source": {"type": "string", "minLength": 1}
        }
      }
    },
    "why_not_next_best": {"type": "string", "minLength": 1}
  }
}`

var bundleSchema = jsonschema.MustCompileString("evidence-bundle.json", bundleSchemaJSON)

// ValidateBundleJSON checks raw model output against the bundle schema.
func ValidateBundleJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("explain: not valid JSON: %w", err)
	}
	if err := bundleSchema.Validate(v); err != nil {
		return fmt.Errorf("explain: schema violation: %w", err)
	}
	return nil
}
