package tools

import (
	"context"

	"github.com/InsulaLabs/txt2img/internal/imagegen"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

const (
	defaultSize  = "1024x1024"
	promptNeeded = "Please input prompt"
)

var dallE3Sizes = []string{"1024x1024", "1024x1792", "1792x1024"}

var recraftV3Sizes = []string{
	"1024x512", "1024x1024", "1024x576", "1024x768",
	"512x1024", "512x768", "1280x960", "960x1280",
	"768x1366", "768x512", "1366x768", "1344x576",
}

type GenerateInput struct {
	Prompt string `json:"prompt" jsonschema_description:"What to draw."`
	Size   string `json:"size,omitempty" jsonschema_description:"WIDTHxHEIGHT, snapped to the closest supported size (default 1024x1024)."`
}

type RecraftInput struct {
	GenerateInput
	Model string `json:"model,omitempty" jsonschema_description:"Model override (default recraftv3)."`
}

// generateTool is a pure text-to-image tool over /images/generations.
type generateTool struct {
	name        string
	description string
	model       string
	modelParam  bool
	sizes       []string
	schema      *jsonschema.Schema
}

func NewDallE3() Tool {
	return &generateTool{
		name:        "dalle3",
		description: "Generate an image with DALL-E 3.",
		model:       "dall-e-3",
		sizes:       dallE3Sizes,
		schema:      GenerateSchema[GenerateInput](),
	}
}

func NewRecraftV3() Tool {
	return &generateTool{
		name:        "recraftv3",
		description: "Generate an image with Recraft V3.",
		model:       "recraftv3",
		modelParam:  true,
		sizes:       recraftV3Sizes,
		schema:      GenerateSchema[RecraftInput](),
	}
}

func (t *generateTool) Name() string               { return t.name }
func (t *generateTool) Description() string        { return t.description }
func (t *generateTool) Schema() *jsonschema.Schema { return t.schema }

func (t *generateTool) Invoke(ctx context.Context, inv *Invocation, emit Emitter) error {
	prompt := inv.Params.String("prompt")
	if prompt == "" {
		return emit(TextMessage(promptNeeded))
	}

	client, err := inv.upstreamClient()
	if err != nil {
		return err
	}

	model := t.model
	if t.modelParam {
		model = inv.Params.StringOr("model", t.model)
	}

	images, err := imagegen.Generate(ctx, inv.logger(), client, imagegen.Request{
		Prompt:         prompt,
		Model:          model,
		Size:           inv.Params.StringOr("size", defaultSize),
		SupportedSizes: t.sizes,
	})
	if err != nil {
		return errors.Wrap(err, "API Error")
	}

	inv.logger().Info("images generated", "model", model, "count", len(images))
	for _, img := range images {
		if err := emit(BlobMessage(img.Data, img.MimeType)); err != nil {
			return err
		}
	}
	return nil
}
