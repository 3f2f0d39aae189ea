package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

// bedrockAPI is the slice of the Bedrock runtime client this gateway
// uses; tests substitute a fake.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockGateway invokes a Bedrock model directly, authenticating
// through the ambient AWS credential chain (shared config profile,
// environment, or instance role).
type BedrockGateway struct {
	settings
	client  bedrockAPI
	modelID string
	opts    Options
}

// NewBedrockGateway resolves AWS credentials for the given region and
// returns a direct gateway. Credential-chain resolution failure is
// surfaced as an *AuthError.
func NewBedrockGateway(ctx context.Context, region, modelID string, opts Options, gwOpts ...Option) (*BedrockGateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, &AuthError{GatewayError: GatewayError{
			Message: "failed to resolve AWS credentials",
			Cause:   err,
		}}
	}

	s := defaultSettings()
	for _, opt := range gwOpts {
		opt(&s)
	}
	return &BedrockGateway{
		settings: s,
		client:   bedrockruntime.NewFromConfig(awsCfg),
		modelID:  modelID,
		opts:     opts,
	}, nil
}

// ModelID returns the target model identifier.
func (g *BedrockGateway) ModelID() string { return g.modelID }

// Invoke submits one conversation state directly to Bedrock. Throttling
// and service unavailability are retried with backoff; validation,
// access, and not-found errors are returned immediately.
func (g *BedrockGateway) Invoke(ctx context.Context, messages []Message, tools []ToolDefinition) (*ModelResponse, error) {
	payload, err := buildRequestBody(g.opts, messages, tools)
	if err != nil {
		return nil, &InvalidRequestError{GatewayError: GatewayError{
			Message: "failed to encode request body",
			Cause:   err,
		}}
	}

	return Retry(ctx, g.retry, func(ctx context.Context) (*ModelResponse, error) {
		return g.invokeOnce(ctx, payload)
	})
}

func (g *BedrockGateway) invokeOnce(ctx context.Context, payload []byte) (*ModelResponse, error) {
	g.logger.Printf("invoking model %s", g.modelID)
	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	var resp ModelResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, &GatewayError{
			Message: "model returned an unparsable response body",
			Cause:   err,
		}
	}
	return &resp, nil
}

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return errorFromAWSCode(apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{GatewayError: GatewayError{
			Message:   "model invocation timed out",
			Retryable: true,
			Cause:     err,
		}}
	}
	return &UnavailableError{GatewayError: GatewayError{
		Message:   "unable to reach Bedrock",
		Retryable: true,
		Cause:     err,
	}}
}
