package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/InsulaLabs/txt2img/internal/session"
)

const promptTemplate = `Task:
From the user's chat history, decide whether the current drawing request creates a new image or modifies an earlier result.
If it creates a new image, output the user's original request and an empty image URL array.
If it modifies an earlier result, output a lightly adjusted request and the relevant image URL array.
If the user also supplied new images, the array must first contain the history image URL that best matches the request, followed by the newly supplied URLs.

Steps:

1. Choosing target image URLs:
- Explicitly referenced images: prefer any image URL the user names.
- Default to the most recent image: if nothing is named, use the last image URL in the history.
- No usable image: if there is no image URL at all, return an empty array.

2. Revising the prompt:
- Keep the original intent: the revised prompt must be clear and keep the user's drawing intent.
- Small adjustments only: for modifications, adjust the wording just enough to make the requested change explicit.

Input:
- Current request: %s
- Image URLs supplied with this request: %s
- Relevant history: %s

Output format:
` + "```json" + `
{
"target_image_urls": ["image URL"],
"revised_instruction": "revised prompt"
}
` + "```"

func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "[]"
	}
	return strings.TrimSpace(buf.String())
}

// BuildPrompt renders the disambiguation prompt. Only turns earlier than
// dialogueCount are included.
func BuildPrompt(instruction string, provided []string, history session.History, dialogueCount int) string {
	if provided == nil {
		provided = []string{}
	}
	prior := history.Before(dialogueCount)
	return fmt.Sprintf(promptTemplate, instruction, encodeJSON(provided), encodeJSON(prior))
}
