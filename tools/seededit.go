package tools

import (
	"context"
	"strings"

	"github.com/InsulaLabs/txt2img/internal/upstream"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

const seedEditModel = "seededit"

type SeedEditInput struct {
	Instruction string `json:"instruction" jsonschema_description:"What to draw or change."`
	ImageURL    string `json:"image_url,omitempty" jsonschema_description:"Image to edit. Switches to the seededit model."`
	Stream      bool   `json:"stream,omitempty" jsonschema_description:"Relay the reply as it is produced."`
}

// SeedEdit is a single shot edit through the chat endpoint. It keeps no
// history.
type SeedEdit struct {
	schema *jsonschema.Schema
}

func NewSeedEdit() *SeedEdit {
	return &SeedEdit{schema: GenerateSchema[SeedEditInput]()}
}

func (t *SeedEdit) Name() string               { return "seededit" }
func (t *SeedEdit) Description() string        { return "Draw or edit an image in one chat completion." }
func (t *SeedEdit) Schema() *jsonschema.Schema { return t.schema }

func (t *SeedEdit) Invoke(ctx context.Context, inv *Invocation, emit Emitter) error {
	client, err := inv.upstreamClient()
	if err != nil {
		return err
	}

	instruction := inv.Params.String("instruction")
	model := inv.Models.Edit
	if model == "" {
		model = "gpt-4o-all"
	}
	content := instruction
	if imageURL := inv.Params.String("image_url"); imageURL != "" {
		model = seedEditModel
		content = imageURL + " " + instruction
	}

	req := upstream.ChatCompletionRequest{
		Model:    model,
		Messages: []upstream.ChatMessage{{Role: "user", Content: upstream.TextContent(content)}},
	}
	logger := inv.logger().With("model", model)

	if inv.Params.Bool("stream") {
		full, err := client.StreamChatCompletion(ctx, req, func(delta string) error {
			return emit(TextMessage(delta))
		})
		if err != nil {
			return errors.Wrap(err, "API Error")
		}
		logger.Info("stream complete", "length", len(full))
		return emit(JSONMessage(map[string]any{"result": strings.TrimSpace(full)}))
	}

	resp, err := client.ChatCompletion(ctx, req)
	if err != nil {
		return errors.Wrap(err, "API Error")
	}
	result, _ := resp.Content()
	return emit(JSONMessage(map[string]any{"result": result}))
}
