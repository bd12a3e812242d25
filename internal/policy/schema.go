package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
)

// draftSchema validates policy documents before anything touches the store.
// Shape errors are reported together and up front, so an import never fails
// halfway through with some drafts already written.
const draftSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["tenant_id", "name", "key_type", "kms_provider", "trigger"],
    "properties": {
      "tenant_id": {"type": "string", "minLength": 1},
      "name": {"type": "string", "minLength": 1},
      "description": {"type": "string"},
      "key_type": {"type": "string", "minLength": 1},
      "kms_provider": {"type": "string", "enum": ["aws_kms", "fake"]},
      "trigger": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "enum": ["time_based", "usage_based", "event_based", "manual"]},
          "time_based": {
            "type": "object",
            "required": ["interval_days", "time_of_day", "timezone"],
            "properties": {
              "interval_days": {"type": "integer", "minimum": 1},
              "time_of_day": {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"},
              "timezone": {"type": "string", "minLength": 1}
            }
          },
          "usage_based": {
            "type": "object",
            "required": ["max_usage_count"],
            "properties": {"max_usage_count": {"type": "integer", "minimum": 1}}
          },
          "event_based": {
            "type": "object",
            "required": ["events"],
            "properties": {"events": {"type": "array", "items": {"type": "string"}, "minItems": 1}}
          }
        }
      },
      "rollback": {
        "type": "object",
        "properties": {
          "enabled": {"type": "boolean"},
          "window_hours": {"type": "integer", "minimum": 0}
        }
      },
      "retain_old_keys_days": {"type": "integer", "minimum": 0}
    }
  }
}`

// ParseDrafts validates a JSON policy document against the schema and
// decodes it into drafts. Documents that fail validation produce an
// InvalidPolicyConfig error naming every violation.
func ParseDrafts(data []byte) ([]Draft, error) {
	schemaLoader := gojsonschema.NewStringLoader(draftSchema)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, kerrors.InvalidPolicyConfig("document", fmt.Sprintf("not valid JSON: %v", err))
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, kerrors.InvalidPolicyConfig("document", strings.Join(problems, "; "))
	}

	var drafts []Draft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return nil, kerrors.InvalidPolicyConfig("document", fmt.Sprintf("decode failed: %v", err))
	}
	return drafts, nil
}
