package identification

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/types"
)

type payload struct {
	Name       string      `json:"name"`
	AnimeName  string      `json:"animeName"`
	Anime      string      `json:"anime,omitempty"`
	Confidence json.Number `json:"confidence"`
}

var (
	characterLine = regexp.MustCompile(`(?im)^\s*character\s*:\s*\[?([^\]\n]+?)\]?\s*$`)
	animeLine     = regexp.MustCompile(`(?im)^\s*(?:anime|from|series)\s*:\s*\[?([^\]\n]+?)\]?\s*$`)
	openingFence  = regexp.MustCompile("^\\s*```[A-Za-z]*[ \\t]*\\n?")
	closingFence  = regexp.MustCompile("\\n?[ \\t]*```\\s*$")
)

// EncodePayload renders an identification the way the model is asked to answer.
func EncodePayload(id types.CharacterIdentification) (string, error) {
	data, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParsePayload reads the model's answer. The JSON object may be fenced or
// surrounded by prose; a bare "Character: <name>" line is accepted as well.
func ParsePayload(text string) (types.CharacterIdentification, error) {
	const op = "identification.parse"
	if strings.TrimSpace(text) == "" {
		return types.CharacterIdentification{}, apperr.Newf(apperr.KindInvalidResponse, op, "empty model output")
	}

	if candidate := extractJSON(text); candidate != "" {
		var p payload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			return types.CharacterIdentification{}, apperr.New(apperr.KindInvalidResponse, op, fmt.Errorf("decode model output: %w", err))
		}
		return p.toIdentification(op)
	}

	if m := characterLine.FindStringSubmatch(text); m != nil {
		p := payload{Name: m[1]}
		if a := animeLine.FindStringSubmatch(text); a != nil {
			p.AnimeName = a[1]
		}
		return p.toIdentification(op)
	}
	return types.CharacterIdentification{}, apperr.Newf(apperr.KindInvalidResponse, op, "no identification in model output: %.120q", text)
}

func (p payload) toIdentification(op string) (types.CharacterIdentification, error) {
	if strings.TrimSpace(p.Name) == "" {
		return types.CharacterIdentification{}, apperr.Newf(apperr.KindInvalidResponse, op, "model output has no character name")
	}
	anime := p.AnimeName
	if strings.TrimSpace(anime) == "" {
		anime = p.Anime
	}
	var confidence float64
	if p.Confidence != "" {
		v, err := p.Confidence.Float64()
		if err != nil {
			return types.CharacterIdentification{}, apperr.New(apperr.KindInvalidResponse, op, fmt.Errorf("confidence: %w", err))
		}
		confidence = clamp(v)
	}
	return types.CharacterIdentification{Name: p.Name, AnimeName: anime, Confidence: confidence}, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// Only an opening and a closing markdown fence are removed; string values are
// left untouched.
func extractJSON(s string) string {
	s = openingFence.ReplaceAllString(s, "")
	s = closingFence.ReplaceAllString(s, "")

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
