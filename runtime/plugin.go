package runtime

import (
	"net/http"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/objstore"
	"github.com/InsulaLabs/txt2img/internal/provider"
)

// ValueStoreIF is the host key value store. Missing keys are reported as
// *tkv.ErrKeyNotFound.
type ValueStoreIF interface {
	RT_Set(key string, value string) error
	RT_Get(key string) (string, error)
	RT_Delete(key string) error
}

type ToolEnvIF interface {
	// RT_Bucket is nil when no object store is configured.
	RT_Bucket() objstore.Bucket
	RT_Namespace() string
	RT_Credentials() provider.Credentials
	RT_Models() config.Models
	RT_Metrics() *metrics.Metrics
}

// The restricted interfaces that permit the plugin
// implementation to interact with the runtime.
type PluginRuntimeIF interface {
	RT_IsRunning() bool

	ValueStoreIF
	ToolEnvIF
}

/*
Set of errors that the plugin implementation can return
to calls into the Plugin interface to inform the runtime
of specific failures.
*/
type PluginImplError struct {
	Err error
}

func (e *PluginImplError) Error() string {
	return e.Err.Error()
}

func (e *PluginImplError) Unwrap() error {
	return e.Err
}

type PluginRoute struct {
	Path    string
	Limit   float64 // Requests per second, per client address
	Burst   int
	Handler http.Handler
}

/*
Plugins are mounted to:

	/plugin-name

and their routes to

	/plugin-name/route-name

Route handlers reach the runtime through the PluginRuntimeIF given to Init.
*/
type Plugin interface {

	// Must be unique among the mounted plugins.
	GetName() string

	// Called once before the routes are mounted.
	Init(prif PluginRuntimeIF) *PluginImplError

	// Every route must carry its rate limit.
	GetRoutes() []PluginRoute
}
