package intent

import "github.com/santhosh-tekuri/jsonschema/v5"

const responseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "oneOf": [
    {
      "type": "object",
      "required": ["type", "operation_type", "amount", "category", "description"],
      "properties": {
        "type": {"const": "finance"},
        "operation_type": {"enum": ["Inflow", "Outflow", "Пополнение", "Расход"]},
        "amount": {"type": "number"},
        "category": {"type": "string"},
        "description": {"type": "string", "minLength": 1},
        "comment": {"type": ["string", "null"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    {
      "type": "object",
      "required": ["type", "message"],
      "properties": {
        "type": {"const": "clarification"},
        "message": {"type": "string", "minLength": 1},
        "suggestions": {"type": "array", "items": {"type": "string"}}
      }
    }
  ]
}`

var responseSchema = jsonschema.MustCompileString("nlu-response.json", responseSchemaJSON)
