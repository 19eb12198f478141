package core

import (
	"encoding/json"
	"strings"
)

// Label is the categorical sentiment reported by the model.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// cardinalLabels maps the cardinal labels some hosted models emit
// (e.g. cardiffnlp/twitter-roberta-base-sentiment) to readable labels.
var cardinalLabels = map[string]Label{
	"label_0": LabelNegative,
	"label_1": LabelNeutral,
	"label_2": LabelPositive,
}

// NormalizeLabel lower-cases a provider label and resolves cardinal labels.
// Unknown labels (finer emotion tags) pass through lower-cased.
func NormalizeLabel(raw string) Label {
	value := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := cardinalLabels[value]; ok {
		return mapped
	}
	return Label(value)
}

// SlotState is the lifecycle state of a single result slot.
type SlotState string

const (
	SlotPending   SlotState = "pending"
	SlotSucceeded SlotState = "succeeded"
	SlotFailed    SlotState = "failed"
)

// AnalysisRequest is one text submitted for classification.
// ID is the 0-based position of the text in the caller's input.
type AnalysisRequest struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// AnalysisResult is the outcome for one request. Exactly one of
// (Label, Confidence) or Error is populated.
type AnalysisResult struct {
	RequestID  int        `json:"request_id"`
	Label      Label      `json:"label,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Error      *ItemError `json:"error,omitempty"`
	Attempts   int        `json:"-"`
	Truncated  bool       `json:"truncated,omitempty"`
}

// MarshalJSON implements json.Marshaler. Confidence is always present on
// a successful result, even when it is 0.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	type plain AnalysisResult
	out := struct {
		plain
		Confidence *float64 `json:"confidence,omitempty"`
	}{plain: plain(r)}
	if r.Error == nil {
		confidence := r.Confidence
		out.Confidence = &confidence
	}
	return json.Marshal(out)
}

// State reports the slot state implied by the result.
func (r *AnalysisResult) State() SlotState {
	if r == nil {
		return SlotPending
	}
	if r.Error != nil {
		return SlotFailed
	}
	return SlotSucceeded
}

// Succeeded builds a successful result.
func Succeeded(id int, label Label, confidence float64) AnalysisResult {
	return AnalysisResult{RequestID: id, Label: label, Confidence: confidence}
}

// Failed builds a failed result carrying err.
func Failed(id int, err *ItemError) AnalysisResult {
	return AnalysisResult{RequestID: id, Error: err}
}

// NewRequests converts raw texts into requests keyed by input position.
// CRLF line breaks inside a text are stored as LF.
func NewRequests(texts []string) []AnalysisRequest {
	requests := make([]AnalysisRequest, len(texts))
	for i, text := range texts {
		requests[i] = AnalysisRequest{ID: i, Text: NormalizeNewlines(text)}
	}
	return requests
}

// NormalizeNewlines rewrites CRLF line breaks as LF.
func NormalizeNewlines(text string) string {
	if !strings.Contains(text, "\r\n") {
		return text
	}
	return strings.ReplaceAll(text, "\r\n", "\n")
}
