// File: internal/observation/validate.go
package observation

import (
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/xeipuuv/gojsonschema"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// observationSchema is the structural contract every observation must meet
// before it reaches the planner. Bounding boxes anywhere under extraction
// must be 4-field integer records; confidence must be a number in [0, 1].
const observationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["schema_version", "timestamp", "ui_state", "extraction", "task_state", "confidence"],
  "definitions": {
    "bbox": {
      "type": "object",
      "required": ["x", "y", "width", "height"],
      "properties": {
        "x": {"type": "integer"},
        "y": {"type": "integer"},
        "width": {"type": "integer"},
        "height": {"type": "integer"}
      }
    }
  },
  "properties": {
    "schema_version": {"type": "string"},
    "timestamp": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0.0, "maximum": 1.0},
    "ui_state": {
      "type": "object",
      "required": ["app", "panels_visible"],
      "properties": {
        "app": {"type": "string"},
        "panels_visible": {
          "type": "object",
          "additionalProperties": {"type": "boolean"}
        }
      }
    },
    "extraction": {
      "type": "object",
      "properties": {
        "timeline": {
          "type": "object",
          "properties": {
            "features_visible": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["screen_bbox"],
                "properties": {"screen_bbox": {"$ref": "#/definitions/bbox"}}
              }
            }
          }
        },
        "alerts": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {"screen_bbox": {"$ref": "#/definitions/bbox"}}
          }
        },
        "measurements": {
          "type": "object",
          "properties": {
            "entries": {
              "type": "array",
              "items": {
                "type": "object",
                "properties": {"screen_bbox": {"$ref": "#/definitions/bbox"}}
              }
            }
          }
        },
        "viewcube": {
          "type": "object",
          "properties": {
            "targets": {
              "type": "array",
              "items": {
                "type": "object",
                "properties": {"screen_bbox": {"$ref": "#/definitions/bbox"}}
              }
            }
          }
        }
      }
    },
    "task_state": {"type": "object"}
  }
}`

var (
	compiledSchema     *gojsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

func schemaDocument() (*gojsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiledSchema, compileSchemaError = gojsonschema.NewSchema(
			gojsonschema.NewStringLoader(observationSchema))
	})
	return compiledSchema, compileSchemaError
}

// Validate checks an observation against the schema contract. A returned
// error wraps schemas.ErrSchemaViolation; callers are expected to route
// failures through Degrade rather than dropping the observation.
func Validate(obs *schemas.Observation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", schemas.ErrSchemaViolation, err)
	}
	return ValidateDocument(data)
}

// ValidateDocument runs the schema contract against a raw JSON document.
func ValidateDocument(data []byte) error {
	schema, err := schemaDocument()
	if err != nil {
		return fmt.Errorf("compile observation schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%w: %s", schemas.ErrSchemaViolation, strings.Join(details, "; "))
}
