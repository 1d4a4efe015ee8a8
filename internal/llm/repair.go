package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when no JSON object can be recovered from a
// model response.
var ErrNoJSONObject = errors.New("no JSON object in response")

var (
	fencePattern        = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")
	trailingComma       = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKey         = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
	singleQuotedKeyOrSV = regexp.MustCompile(`'([^'"\\]*)'`)
)

// DecodeObject recovers a JSON object from free-form model output into v.
// It tries, in order: the raw text, the text after syntax repair, the object
// extracted from markdown or prose, and the extracted object after repair.
func DecodeObject(content string, v any) error {
	content = strings.TrimPrefix(strings.TrimSpace(content), "\ufeff")

	candidates := []string{content, RepairJSON(content)}
	if extracted := ExtractJSON(content); extracted != content {
		candidates = append(candidates, extracted, RepairJSON(extracted))
	}

	var lastErr error
	for _, c := range candidates {
		if !strings.HasPrefix(c, "{") {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return errors.Join(ErrNoJSONObject, lastErr)
	}
	return ErrNoJSONObject
}

// ExtractJSON returns the JSON object embedded in a code fence or prose,
// or the input unchanged if none is found.
func ExtractJSON(content string) string {
	if m := fencePattern.FindStringSubmatch(content); len(m) > 1 {
		if inner := strings.TrimSpace(m[1]); strings.HasPrefix(inner, "{") {
			return inner
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		return content[start : end+1]
	}
	return content
}

// RepairJSON fixes common syntax errors in model-produced JSON: trailing
// commas, unquoted keys, single quotes and missing closing brackets.
func RepairJSON(content string) string {
	repaired := strings.TrimSpace(strings.TrimPrefix(content, "\ufeff"))

	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = singleQuotedKeyOrSV.ReplaceAllString(repaired, `"$1"`)
	}
	repaired = unquotedKey.ReplaceAllString(repaired, `$1"$2":`)
	repaired = trailingComma.ReplaceAllString(repaired, "$1")

	if open := strings.Count(repaired, "[") - strings.Count(repaired, "]"); open > 0 {
		repaired += strings.Repeat("]", open)
	}
	if open := strings.Count(repaired, "{") - strings.Count(repaired, "}"); open > 0 {
		repaired += strings.Repeat("}", open)
	}
	return repaired
}
