package inference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentilens/sentilens/internal/core"
)

func TestParseSingleShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		label string
		score float64
	}{
		{name: "object", body: `{"label":"positive","score":0.9}`, label: "positive", score: 0.9},
		{name: "candidates", body: `[{"label":"neutral","score":0.2},{"label":"negative","score":0.7}]`, label: "negative", score: 0.7},
		{name: "nested", body: ` [[{"label":"LABEL_1","score":0.55},{"label":"LABEL_2","score":0.45}]]`, label: "LABEL_1", score: 0.55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prediction, err := parseSingle([]byte(tt.body))
			require.Nil(t, err)
			require.Equal(t, tt.label, prediction.Label)
			require.InDelta(t, tt.score, *prediction.Score, 1e-9)
		})
	}
}

func TestParseSingleRejects(t *testing.T) {
	bodies := []string{
		``,
		`"positive"`,
		`[]`,
		`[[]]`,
		`{"score":0.5}`,
		`{"label":"","score":0.5}`,
		`{"label":"positive"}`,
		`{"label":"positive","score":-0.1}`,
		`[{"label":"positive","score":"high"}]`,
		`{"label":"   ","score":0.5}`,
		`[[{"label":"positive","score":1.5}]]`,
		`{"label":"positive","score":0.5`,
	}

	for _, body := range bodies {
		_, err := parseSingle([]byte(body))
		require.NotNil(t, err, body)
		require.Equal(t, core.KindSchema, err.Kind, body)
	}
}

func TestParseMany(t *testing.T) {
	predictions, err := parseMany([]byte(`[{"label":"positive","score":0.9},[{"label":"negative","score":0.6},{"label":"positive","score":0.4}]]`), 2)
	require.Nil(t, err)
	require.Len(t, predictions, 2)
	require.Equal(t, "positive", predictions[0].Label)
	require.Equal(t, "negative", predictions[1].Label)

	single, err := parseMany([]byte(`{"label":"neutral","score":0.5}`), 1)
	require.Nil(t, err)
	require.Len(t, single, 1)

	_, err = parseMany([]byte(`{"label":"neutral","score":0.5}`), 2)
	require.NotNil(t, err)

	_, err = parseMany([]byte(`[{"label":"neutral","score":0.5}]`), 3)
	require.NotNil(t, err)
	require.Contains(t, err.Message, "expected 3 results, got 1")
}

func TestParseReportsSchemaLocation(t *testing.T) {
	_, err := parseSingle([]byte(`{"label":"positive","score":2}`))
	require.NotNil(t, err)
	require.Equal(t, core.KindSchema, err.Kind)
	require.Contains(t, err.Message, "response schema validation failed")

	_, err = parseMany([]byte(`[{"label":"positive","score":0.4},{"label":"negative"}]`), 2)
	require.NotNil(t, err)
	require.Contains(t, err.Message, "response schema validation failed")
}

func TestResponseSchemaCompiles(t *testing.T) {
	validator, err := compiledResponseSchema()
	require.NoError(t, err)
	require.NotNil(t, validator)
}
