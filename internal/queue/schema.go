package queue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// OCRPayload is the payload of an ocr job.
type OCRPayload struct {
	EvidenceID      string   `json:"evidence_id"`
	SizeBytes       int64    `json:"size_bytes,omitempty"`
	ExpectedSeconds float64  `json:"expected_seconds,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	Preprocess      *bool    `json:"preprocess,omitempty"`
}

// TransformPayload is the payload of a transform job.
type TransformPayload struct {
	EvidenceID       string  `json:"evidence_id"`
	SizeBytes        int64   `json:"size_bytes,omitempty"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	SourceHint       string  `json:"source_hint,omitempty"`
}

// CompressPayload is the payload of a compress job.
type CompressPayload struct {
	EvidenceID string `json:"evidence_id"`
	StorageKey string `json:"storage_key,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// Storage job actions.
const (
	StorageActionCleanup = "cleanup"
	StorageActionPurge   = "purge"
)

// StoragePayload is the payload of a storage job.
type StoragePayload struct {
	Action           string `json:"action"`
	EvidenceID       string `json:"evidence_id,omitempty"`
	RetentionSeconds int64  `json:"retention_seconds,omitempty"`
	SizeBytes        int64  `json:"size_bytes,omitempty"`
}

// payloadSizing is the subset of fields every payload may carry for cost estimation.
type payloadSizing struct {
	SizeBytes       int64   `json:"size_bytes"`
	ExpectedSeconds float64 `json:"expected_seconds"`
}

func uuidProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
	}
}

func sizeProp() map[string]any {
	return map[string]any{"type": "integer", "minimum": 0}
}

// payloadSchemas returns the JSON schema for each job type's payload.
func payloadSchemas() map[constants.JobType]map[string]any {
	return map[constants.JobType]map[string]any{
		constants.JobOCR: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"evidence_id":      uuidProp(),
				"size_bytes":       sizeProp(),
				"expected_seconds": map[string]any{"type": "number", "minimum": 0},
				"languages": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string", "pattern": `^[a-z_]{3,8}$`},
				},
				"preprocess": map[string]any{"type": "boolean"},
			},
			"required": []string{"evidence_id"},
		},
		constants.JobTransform: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"evidence_id":       uuidProp(),
				"size_bytes":        sizeProp(),
				"quality_threshold": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"source_hint":       map[string]any{"type": "string"},
			},
			"required": []string{"evidence_id"},
		},
		constants.JobCompress: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"evidence_id": uuidProp(),
				"storage_key": map[string]any{"type": "string", "minLength": 1},
				"size_bytes":  sizeProp(),
			},
			"required": []string{"evidence_id"},
		},
		constants.JobStorage: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"action":            map[string]any{"type": "string", "enum": []string{StorageActionCleanup, StorageActionPurge}},
				"evidence_id":       uuidProp(),
				"retention_seconds": map[string]any{"type": "integer", "minimum": 0},
				"size_bytes":        sizeProp(),
			},
			"required": []string{"action"},
		},
	}
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// compilePayloadSchemas panics on error: the schemas are static.
func compilePayloadSchemas() map[constants.JobType]*jsonschema.Schema {
	out := make(map[constants.JobType]*jsonschema.Schema)
	for t, m := range payloadSchemas() {
		s, err := compileSchema(string(t)+".json", m)
		if err != nil {
			panic(fmt.Sprintf("queue: %s payload schema: %v", t, err))
		}
		out[t] = s
	}
	return out
}

func validatePayload(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
