// Package tools holds the txt2img tools and the contract the host uses to
// run them.
//
// A tool receives an Invocation and yields Messages through an Emitter as
// they become available. Returning an error aborts the invocation; messages
// already emitted stay delivered.
package tools

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/objstore"
	"github.com/InsulaLabs/txt2img/internal/provider"
	"github.com/InsulaLabs/txt2img/internal/session"
	"github.com/invopop/jsonschema"
	"github.com/tmc/langchaingo/llms"
)

type Emitter func(Message) error

type Tool interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema
	Invoke(ctx context.Context, inv *Invocation, emit Emitter) error
}

// Invocation is everything one tool call runs with. Logger is already
// scoped to the call.
type Invocation struct {
	ID          string
	Params      Params
	Credentials provider.Credentials
	Models      config.Models
	Storage     session.Storage
	Bucket      objstore.Bucket
	Namespace   string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	HTTPClient  *http.Client

	// NewLLM overrides how the auxiliary model is built.
	NewLLM func(apiRoot, apiKey, model string) (llms.Model, error)
}

func (inv *Invocation) logger() *slog.Logger {
	if inv.Logger == nil {
		return slog.Default()
	}
	return inv.Logger
}

// GenerateSchema derives the parameter schema of a tool from T.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
