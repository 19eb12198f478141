package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeResult(t *testing.T, result AnalysisResult) map[string]any {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func TestAnalysisResultEncoding(t *testing.T) {
	zero := Succeeded(3, LabelNeutral, 0)
	decoded := encodeResult(t, zero)
	require.Equal(t, 0.0, decoded["confidence"])
	require.Equal(t, "neutral", decoded["label"])

	failed := encodeResult(t, Failed(4, Cancelled()))
	require.NotContains(t, failed, "confidence")
	require.NotContains(t, failed, "label")
}

func TestRetriedSuccessEncodesLikeFirstTry(t *testing.T) {
	first := Succeeded(0, LabelPositive, 0.91)
	first.Attempts = 1
	retried := first
	retried.Attempts = 2

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(retried)
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))
	require.NotContains(t, encodeResult(t, retried), "attempts")
}

func TestNewRequestsNormalizesLineBreaks(t *testing.T) {
	requests := NewRequests([]string{"one\r\ntwo", "plain", "bare\rreturn"})
	require.Equal(t, []AnalysisRequest{
		{ID: 0, Text: "one\ntwo"},
		{ID: 1, Text: "plain"},
		{ID: 2, Text: "bare\rreturn"},
	}, requests)
}
