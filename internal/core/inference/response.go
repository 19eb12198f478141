package inference

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	"github.com/sentilens/sentilens/internal/core"
)

// Prediction is one label/score candidate reported by the provider.
type Prediction struct {
	Label string   `json:"label"`
	Score *float64 `json:"score"`
}

// Accepted response shapes:
//
//	{"label": "positive", "score": 0.9}
//	[{"label": "positive", "score": 0.9}, ...]      candidates for one text
//	[[{"label": "positive", "score": 0.9}, ...]]    candidates per text
//
// For multi-input calls a flat list holds exactly one prediction per text.
//
//go:embed response.schema.json
var responseSchema []byte

var (
	responseValidatorOnce sync.Once
	responseValidator     *schema.Validator
	responseValidatorErr  error
)

func compiledResponseSchema() (*schema.Validator, error) {
	responseValidatorOnce.Do(func() {
		responseValidator, responseValidatorErr = schema.NewValidator(responseSchema)
	})
	return responseValidator, responseValidatorErr
}

// validateResponse checks raw against the response schema.
func validateResponse(raw []byte) *core.ItemError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return core.SchemaError("empty response body")
	}

	validator, err := compiledResponseSchema()
	if err != nil {
		return core.SchemaError("compile response schema: %v", err)
	}
	diagnostics, err := validator.ValidateJSON(trimmed)
	if err != nil {
		return core.SchemaError("decode response: %v", err)
	}
	if len(diagnostics) > 0 {
		return core.SchemaError("response schema validation failed: %s", describe(diagnostics))
	}
	return nil
}

func describe(diagnostics []schema.Diagnostic) string {
	first := diagnostics[0]
	if first.Pointer == "" || first.Pointer == "/" {
		return first.Message
	}
	return first.Pointer + ": " + first.Message
}

// parseSingle validates a single-text response and returns its top prediction.
func parseSingle(raw []byte) (Prediction, *core.ItemError) {
	if err := validateResponse(raw); err != nil {
		return Prediction{}, err
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '{' {
		return decodePrediction(raw)
	}

	items, err := decodeItems(raw)
	if err != nil {
		return Prediction{}, err
	}
	if isList(items[0]) {
		return bestOf(items[0])
	}
	return bestOf(raw)
}

// parseMany validates a multi-text response holding n results.
func parseMany(raw []byte, n int) ([]Prediction, *core.ItemError) {
	if err := validateResponse(raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '{' {
		if n != 1 {
			return nil, core.SchemaError("expected %d results, got a single object", n)
		}
		prediction, err := decodePrediction(raw)
		if err != nil {
			return nil, err
		}
		return []Prediction{prediction}, nil
	}

	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}
	if len(items) != n {
		return nil, core.SchemaError("expected %d results, got %d", n, len(items))
	}

	predictions := make([]Prediction, n)
	for i, item := range items {
		var prediction Prediction
		if isList(item) {
			prediction, err = bestOf(item)
		} else {
			prediction, err = decodePrediction(item)
		}
		if err != nil {
			return nil, err
		}
		predictions[i] = prediction
	}
	return predictions, nil
}

func decodeItems(raw []byte) ([]json.RawMessage, *core.ItemError) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, core.SchemaError("decode response: %v", err)
	}
	return items, nil
}

func isList(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func decodePrediction(raw []byte) (Prediction, *core.ItemError) {
	var prediction Prediction
	if err := json.Unmarshal(raw, &prediction); err != nil {
		return Prediction{}, core.SchemaError("decode prediction: %v", err)
	}
	prediction.Label = strings.TrimSpace(prediction.Label)
	return prediction, nil
}

// bestOf decodes a schema-checked candidate list and returns the highest
// scoring entry.
func bestOf(raw []byte) (Prediction, *core.ItemError) {
	var candidates []Prediction
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return Prediction{}, core.SchemaError("decode predictions: %v", err)
	}

	best := 0
	for i := range candidates {
		if *candidates[i].Score > *candidates[best].Score {
			best = i
		}
	}
	candidates[best].Label = strings.TrimSpace(candidates[best].Label)
	return candidates[best], nil
}
