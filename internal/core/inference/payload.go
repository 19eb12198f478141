package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentilens/sentilens/internal/core"
)

// PayloadStyle selects the request body shape sent to the provider.
type PayloadStyle string

const (
	// PayloadHuggingFace sends {"inputs": ...} as the hosted inference API expects.
	PayloadHuggingFace PayloadStyle = "huggingface"
	// PayloadGeneric sends {"text": ...} or {"texts": [...]}.
	PayloadGeneric PayloadStyle = "generic"
)

// ParsePayloadStyle validates and normalizes a payload style.
func ParsePayloadStyle(value string) (PayloadStyle, error) {
	switch PayloadStyle(strings.ToLower(strings.TrimSpace(value))) {
	case "", PayloadHuggingFace:
		return PayloadHuggingFace, nil
	case PayloadGeneric:
		return PayloadGeneric, nil
	default:
		return "", &core.ConfigError{Field: "inference.payload_style", Message: fmt.Sprintf("unsupported style %q", value)}
	}
}

type huggingFaceSingle struct {
	Inputs string `json:"inputs"`
}

type huggingFaceMany struct {
	Inputs []string `json:"inputs"`
}

type genericSingle struct {
	Text string `json:"text"`
}

type genericMany struct {
	Texts []string `json:"texts"`
}

func (s PayloadStyle) encodeSingle(text string) ([]byte, error) {
	if s == PayloadGeneric {
		return json.Marshal(genericSingle{Text: text})
	}
	return json.Marshal(huggingFaceSingle{Inputs: text})
}

func (s PayloadStyle) encodeMany(texts []string) ([]byte, error) {
	if s == PayloadGeneric {
		return json.Marshal(genericMany{Texts: texts})
	}
	return json.Marshal(huggingFaceMany{Inputs: texts})
}
