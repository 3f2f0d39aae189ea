package gateway

import (
	"context"
	"log"
	"net/http"

	"github.com/hshen-ai/Zscaler-Automation/config"
)

// ModelGateway is one request/response cycle with the model backend:
// submit the conversation and tool catalog, receive either a final
// answer or a tool-call request, classified per the package taxonomy.
type ModelGateway interface {
	Invoke(ctx context.Context, messages []Message, tools []ToolDefinition) (*ModelResponse, error)
}

// New selects a gateway variant from configuration: the Zscaler AI
// Guard proxy when a gateway URL is configured, the direct Bedrock
// connection otherwise.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (ModelGateway, error) {
	opts := Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	if cfg.UseGateway() {
		return NewZGuardGateway(cfg.GatewayURL, cfg.APIKey, cfg.ModelID, opts,
			WithLogger(logger),
			WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		), nil
	}
	return NewBedrockGateway(ctx, cfg.AWSRegion, cfg.ModelID, opts, WithLogger(logger))
}
