// Package shaper turns an abstract chat request into the endpoint, headers,
// and JSON body expected by a specific upstream API.
package shaper

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"chatgate/internal/core"
)

const (
	// DefaultDirectEndpoint is the OpenAI chat completions URL.
	DefaultDirectEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultAggregatorEndpoint is the OpenRouter chat completions URL.
	DefaultAggregatorEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	// DefaultAzureHostSuffix identifies Azure OpenAI resources.
	DefaultAzureHostSuffix = "openai.azure.com"
)

// TargetKind identifies which upstream dialect a request is shaped for.
type TargetKind int

const (
	TargetDirect TargetKind = iota
	TargetAzure
	TargetAggregator
)

// Target is the provider decision for one request. Deployment and
// APIVersion are only set for TargetAzure.
type Target struct {
	Kind       TargetKind
	Deployment string
	APIVersion string
}

// String returns the provider label used in logs, metrics, and errors.
func (t Target) String() string {
	switch t.Kind {
	case TargetAzure:
		return "azure"
	case TargetAggregator:
		return "openrouter"
	default:
		return "direct"
	}
}

// Options holds the static knobs of the shaper.
type Options struct {
	// AggregatorEndpoint replaces the caller's endpoint for provider/model names.
	AggregatorEndpoint string
	// IsAzureEndpoint reports whether an endpoint belongs to an Azure resource.
	IsAzureEndpoint func(endpoint string) bool
}

// DefaultOptions returns options pointing at OpenRouter and matching
// *.openai.azure.com hosts.
func DefaultOptions() Options {
	return Options{
		AggregatorEndpoint: DefaultAggregatorEndpoint,
		IsAzureEndpoint:    AzureHostMatcher(DefaultAzureHostSuffix),
	}
}

// AzureHostMatcher returns a predicate matching endpoints whose host ends
// with one of the given suffixes.
func AzureHostMatcher(suffixes ...string) func(string) bool {
	return func(endpoint string) bool {
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			// Not a URL; fall back to a substring match.
			lower := strings.ToLower(endpoint)
			for _, s := range suffixes {
				if s = strings.ToLower(strings.TrimPrefix(s, ".")); s != "" && strings.Contains(lower, s) {
					return true
				}
			}
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, s := range suffixes {
			s = strings.ToLower(strings.TrimPrefix(s, "."))
			if s == "" {
				continue
			}
			if host == s || strings.HasSuffix(host, "."+s) {
				return true
			}
		}
		return false
	}
}

// Payload is the upstream request body. Field order is fixed so equal
// requests encode to equal bytes.
type Payload struct {
	Messages         []core.Message         `json:"messages"`
	Model            string                 `json:"model"`
	Temperature      float64                `json:"temperature"`
	PresencePenalty  float64                `json:"presence_penalty"`
	TopP             float64                `json:"top_p"`
	FrequencyPenalty float64                `json:"frequency_penalty"`
	Reasoning        *core.ReasoningPayload `json:"reasoning,omitempty"`
	Stream           *bool                  `json:"stream,omitempty"`
}

// WithStream returns a copy of p with the stream flag set.
func (p Payload) WithStream(stream bool) Payload {
	p.Stream = &stream
	return p
}

// Shaped is the fully rewritten upstream request.
type Shaped struct {
	Endpoint string
	Headers  http.Header
	Payload  Payload
	Target   Target
}

// Body encodes the payload without a stream flag.
func (s Shaped) Body() ([]byte, error) {
	return json.Marshal(s.Payload)
}

func (o Options) withDefaults() Options {
	if o.IsAzureEndpoint == nil {
		o.IsAzureEndpoint = AzureHostMatcher(DefaultAzureHostSuffix)
	}
	if o.AggregatorEndpoint == "" {
		o.AggregatorEndpoint = DefaultAggregatorEndpoint
	}
	return o
}

// Detect picks the upstream dialect for req. Aggregator model names win
// over an Azure endpoint; Azure needs an API key.
func Detect(req *core.ChatRequest, opts Options) Target {
	opts = opts.withDefaults()
	model := req.Config.Model
	switch {
	case IsAggregatorModel(model):
		return Target{Kind: TargetAggregator}
	case opts.IsAzureEndpoint(req.Endpoint) && req.APIKey != "":
		deployment := AzureDeploymentName(model)
		return Target{Kind: TargetAzure, Deployment: deployment, APIVersion: AzureAPIVersion(deployment)}
	default:
		return Target{Kind: TargetDirect}
	}
}

// Shape rewrites req for its upstream. It never fails: unknown models fall
// through to the direct API unchanged.
func Shape(req *core.ChatRequest, opts Options) Shaped {
	opts = opts.withDefaults()

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	if req.APIKey != "" {
		headers.Set("Authorization", "Bearer "+req.APIKey)
	}

	endpoint := req.Endpoint
	model := req.Config.Model
	target := Detect(req, opts)

	switch target.Kind {
	case TargetAggregator:
		endpoint = opts.AggregatorEndpoint
		if req.AggregatorKey != "" {
			headers.Set("Authorization", "Bearer "+req.AggregatorKey)
		}
	case TargetAzure:
		headers.Set("api-key", req.APIKey)
		endpoint = AzureEndpoint(endpoint, target.Deployment, target.APIVersion)
	}

	return Shaped{
		Endpoint: endpoint,
		Headers:  headers,
		Target:   target,
		Payload: Payload{
			Messages:         req.Messages,
			Model:            model,
			Temperature:      req.Config.Temperature,
			PresencePenalty:  req.Config.PresencePenalty,
			TopP:             req.Config.TopP,
			FrequencyPenalty: req.Config.FrequencyPenalty,
			Reasoning:        Reasoning(model, target, opts.IsAzureEndpoint(endpoint), req.Config.Reasoning),
		},
	}
}

// IsAggregatorModel reports whether model is routed through the aggregator.
func IsAggregatorModel(model string) bool {
	return strings.Contains(model, "/")
}
