package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/analysis"
	"github.com/InsulaLabs/txt2img/internal/imageref"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/objstore"
	"github.com/InsulaLabs/txt2img/internal/reconciler"
	"github.com/InsulaLabs/txt2img/internal/session"
	"github.com/InsulaLabs/txt2img/internal/upstream"
	"github.com/invopop/jsonschema"
	pkgerrors "github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
)

const (
	S3EditName = "s3edit"

	imageFormatText   = "text"
	imageFormatVision = "vision"

	noImageText          = "\n\nRate limit reached, please try again later"
	imageProcessFailText = "\n\nImage processing failed, please try generating again"
)

var (
	ErrNoSessionStorage = errors.New("s3edit needs session storage")
	errNoChoices        = errors.New("chat completion returned no choices")
)

type S3EditInput struct {
	Instruction    string `json:"instruction" jsonschema_description:"What to draw or change. URLs in the text are used as references."`
	ImageFiles     []File `json:"image_files,omitempty" jsonschema_description:"Attached reference files; only type image is used."`
	Model          string `json:"model,omitempty" jsonschema_description:"Edit model override (default gpt-4o-all)."`
	Stream         bool   `json:"stream,omitempty" jsonschema_description:"Relay the reply as it is produced."`
	ImageFormat    string `json:"image_format,omitempty" jsonschema:"enum=text,enum=vision" jsonschema_description:"How references are sent: URLs before the text, or image parts."`
	ConversationID string `json:"conversation_id" jsonschema_description:"Conversation the turn belongs to."`
	DialogueCount  int    `json:"dialogue_count,omitempty" jsonschema_description:"Turn number within the conversation, starting at 0."`
}

type File struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// S3Edit is the conversational edit tool. Every call is one turn of a
// conversation whose history lives in the invocation's session storage.
type S3Edit struct {
	schema *jsonschema.Schema
}

func NewS3Edit() *S3Edit {
	return &S3Edit{schema: GenerateSchema[S3EditInput]()}
}

func (t *S3Edit) Name() string { return S3EditName }
func (t *S3Edit) Description() string {
	return "Edit images across the turns of a conversation, resolving references to earlier results."
}
func (t *S3Edit) Schema() *jsonschema.Schema { return t.schema }

func (t *S3Edit) Invoke(ctx context.Context, inv *Invocation, emit Emitter) error {
	client, err := inv.upstreamClient()
	if err != nil {
		return err
	}
	if inv.Storage == nil {
		return ErrNoSessionStorage
	}

	call := reconciler.Call{
		ConversationID: inv.Params.String("conversation_id"),
		DialogueCount:  inv.Params.Int("dialogue_count", 0),
		Instruction:    inv.Params.String("instruction"),
		AttachedURLs:   inv.Params.ImageFiles("image_files"),
	}
	logger := inv.logger().With("conversation_id", call.ConversationID, "dialogue_count", call.DialogueCount)

	fetcher := imageref.NewFetcher(inv.HTTPClient)
	rec, err := t.reconciler(inv, fetcher, call.DialogueCount)
	if err != nil {
		return err
	}

	turn, err := rec.Begin(ctx, logger, call)
	if err != nil {
		if reconciler.IsDisambiguation(err) {
			logger.Warn("could not resolve referenced history", "error", err)
			return emit(TextMessage(analysis.UserMessage))
		}
		return err
	}

	model := inv.Params.StringOr("model", inv.Models.Edit)
	if model == "" {
		model = config.DefaultEditModel
	}
	req := upstream.ChatCompletionRequest{
		Model:    model,
		Messages: []upstream.ChatMessage{buildMessage(turn.Record, inv.Params.StringOr("image_format", imageFormatText))},
	}
	logger.Info("calling edit model", "model", model, "retry", turn.Retry,
		"instruction", turn.Record.Instruction, "image_urls", turn.Record.ImageURLs)

	var content string
	if inv.Params.Bool("stream") {
		content, err = client.StreamChatCompletion(ctx, req, func(delta string) error {
			return emit(TextMessage(delta))
		})
		if err != nil {
			return pkgerrors.Wrap(err, "API Error")
		}
	} else {
		resp, err := client.ChatCompletion(ctx, req)
		if err != nil {
			return pkgerrors.Wrap(err, "API Error")
		}
		var ok bool
		if content, ok = resp.Content(); !ok {
			return pkgerrors.Wrap(errNoChoices, "API Error")
		}
		if err := emit(TextMessage(content)); err != nil {
			return err
		}
	}
	logger.Debug("full response content", "content", content)

	if err := rec.Finish(logger, turn, content); err != nil {
		logger.Error("failed to update history with response", "error", err)
	}

	return emitResult(ctx, logger, fetcher, inv.Metrics, content, emit)
}

func (t *S3Edit) reconciler(inv *Invocation, fetcher *imageref.Fetcher, dialogueCount int) (*reconciler.Reconciler, error) {
	var uploader imageref.Uploader
	if inv.Bucket != nil {
		ns := inv.Namespace
		if ns == "" {
			ns = config.DefaultNamespace
		}
		uploader = objstore.NewPersister(inv.Bucket, ns, inv.Metrics)
	}
	resolver := imageref.NewResolver(fetcher, uploader, inv.Metrics)

	var analyzer reconciler.Disambiguator
	if dialogueCount > 0 {
		llm, err := t.analysisModel(inv)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "analysis model")
		}
		analyzer = analysis.New(llm, inv.Metrics)
	}

	store := session.NewStore(inv.Storage, S3EditName)
	return reconciler.New(S3EditName, store, resolver, analyzer, inv.Metrics), nil
}

func (t *S3Edit) analysisModel(inv *Invocation) (llms.Model, error) {
	root, err := inv.Credentials.APIRoot()
	if err != nil {
		return nil, err
	}
	model := inv.Models.Analysis
	if model == "" {
		model = config.DefaultAnalysisModel
	}
	newLLM := inv.NewLLM
	if newLLM == nil {
		newLLM = analysis.NewLLM
	}
	return newLLM(root, inv.Credentials.OpenAIAPIKey, model)
}

// buildMessage shapes the edit request. URLs are always removed from the
// instruction text and sent separately.
func buildMessage(rec session.TurnRecord, format string) upstream.ChatMessage {
	cleaned := imageref.StripURLs(rec.Instruction)

	if format == imageFormatVision {
		parts := []upstream.ContentPart{upstream.TextPart(cleaned)}
		for _, u := range rec.ImageURLs {
			parts = append(parts, upstream.ImagePart(u))
		}
		return upstream.ChatMessage{Role: "user", Content: upstream.PartsContent(parts...)}
	}

	text := cleaned
	if len(rec.ImageURLs) > 0 {
		text = strings.TrimSpace(strings.Join(rec.ImageURLs, " ") + " " + cleaned)
	}
	return upstream.ChatMessage{Role: "user", Content: upstream.TextContent(text)}
}

// emitResult turns the last markdown image of content into a message.
func emitResult(ctx context.Context, logger *slog.Logger, fetcher *imageref.Fetcher, m *metrics.Metrics, content string, emit Emitter) error {
	u, ok := imageref.LastMarkdownImage(content)
	if !ok {
		logger.Info("no image in response")
		return emit(TextMessage(noImageText))
	}

	if imageref.IsImageURL(u) {
		return emit(ImageMessage(u))
	}

	logger.Info("downloading result image", "url", u)
	fetched, err := fetcher.Fetch(ctx, u, imageref.ResultFetchTimeout)
	if err != nil {
		logger.Error("failed to process image url", "url", u, "error", err)
		m.SoftFailure(metrics.StageResult)
		return emit(TextMessage(imageProcessFailText))
	}
	mimeType := fetched.ContentType
	if mimeType == "" {
		mimeType = imageref.MimePNG
	}
	return emit(BlobMessage(fetched.Data, mimeType))
}
