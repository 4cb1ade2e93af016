package runtime

import (
	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/objstore"
	"github.com/InsulaLabs/txt2img/internal/provider"
)

// ------------------------------------------------------------
// PluginRuntimeIF implementation
// ------------------------------------------------------------

var _ PluginRuntimeIF = &Runtime{}

func (r *Runtime) RT_IsRunning() bool {
	return r.appCtx.Err() == nil
}

func (r *Runtime) RT_Set(key string, value string) error {
	return r.store.Set(key, value)
}

func (r *Runtime) RT_Get(key string) (string, error) {
	return r.store.Get(key)
}

func (r *Runtime) RT_Delete(key string) error {
	return r.store.Delete(key)
}

func (r *Runtime) RT_Bucket() objstore.Bucket {
	return r.bucket
}

func (r *Runtime) RT_Namespace() string {
	if r.cfg.ObjectStore.Namespace == "" {
		return config.DefaultNamespace
	}
	return r.cfg.ObjectStore.Namespace
}

func (r *Runtime) RT_Credentials() provider.Credentials {
	return CredentialsFromConfig(r.cfg)
}

func (r *Runtime) RT_Models() config.Models {
	return r.cfg.Models
}

func (r *Runtime) RT_Metrics() *metrics.Metrics {
	return r.metrics
}

// CredentialsFromConfig maps the config sections onto the credential set
// tools run with.
func CredentialsFromConfig(cfg *config.Config) provider.Credentials {
	return provider.Credentials{
		OpenAIAPIKey:  cfg.Credentials.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Credentials.OpenAIBaseURL,
		ObjectStore: provider.ObjectStore{
			Bucket:    cfg.ObjectStore.Bucket,
			Endpoint:  cfg.ObjectStore.Endpoint,
			Region:    cfg.ObjectStore.Region,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
		},
	}
}
