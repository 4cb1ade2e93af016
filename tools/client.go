package tools

import (
	"github.com/InsulaLabs/txt2img/internal/upstream"
)

// upstreamClient builds the vendor client for inv. Missing or malformed
// credentials fail here, before any network call.
func (inv *Invocation) upstreamClient() (*upstream.Client, error) {
	root, err := inv.Credentials.APIRoot()
	if err != nil {
		return nil, err
	}
	opts := []upstream.Option{upstream.WithMetrics(inv.Metrics)}
	if inv.HTTPClient != nil {
		opts = append(opts, upstream.WithHTTPClient(inv.HTTPClient))
	}
	return upstream.New(inv.logger(), root, inv.Credentials.OpenAIAPIKey, opts...), nil
}
