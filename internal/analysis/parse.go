package analysis

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

const replySchema = `{
  "type": "object",
  "required": ["target_image_urls", "revised_instruction"],
  "properties": {
    "revised_instruction": {"type": "string"}
  }
}`

var replySchemaLoader = gojsonschema.NewStringLoader(replySchema)

type reply struct {
	TargetImageURLs    json.RawMessage `json:"target_image_urls"`
	RevisedInstruction string          `json:"revised_instruction"`
}

// extractJSON is the first stage: the fenced body when there is a fence,
// otherwise the whole reply.
func extractJSON(content string) string {
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return strings.TrimSpace(content)
}

// parseReply is the second stage. A target list that is not an array of
// strings is treated as empty.
func parseReply(content string) ([]string, string, error) {
	body := extractJSON(content)

	var probe any
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, "", &DisambiguationError{Reason: ReasonMalformed, Err: err}
	}

	result, err := gojsonschema.Validate(replySchemaLoader, gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, "", &DisambiguationError{Reason: ReasonMalformed, Err: err}
	}
	if !result.Valid() {
		return nil, "", &DisambiguationError{Reason: ReasonMissingFields, Err: schemaError(result.Errors())}
	}

	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, "", &DisambiguationError{Reason: ReasonMalformed, Err: err}
	}

	var targets []string
	if err := json.Unmarshal(r.TargetImageURLs, &targets); err != nil {
		targets = nil
	}
	return targets, r.RevisedInstruction, nil
}

type schemaError []gojsonschema.ResultError

func (e schemaError) Error() string {
	parts := make([]string, 0, len(e))
	for _, re := range e {
		parts = append(parts, re.String())
	}
	return strings.Join(parts, "; ")
}
