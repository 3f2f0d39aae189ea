// Package gateway sends conversations to an AWS Bedrock Claude model
// and classifies the backend's answers into a single error taxonomy.
//
// Two interchangeable implementations of the ModelGateway interface are
// provided:
//
//   - BedrockGateway calls the Bedrock runtime API directly,
//     authenticating through the ambient AWS credential chain
//     (profile, environment, or instance role).
//   - ZGuardGateway calls the same model through the Zscaler AI Guard
//     HTTP proxy, authenticating with a static API key header and
//     targeting {base}/model/{modelID}/invoke.
//
// Both build the native Anthropic-on-Bedrock request body
// (anthropic_version, max_tokens, temperature, messages, tools) and
// return a ModelResponse whose stop_reason tells the caller whether the
// model produced a final answer or is requesting tool calls.
//
// Failures are classified into typed errors: authentication, policy
// block (proxy DLP/content rejection), invalid request, not found, rate
// limit, backend unavailable, and timeout. Rate limits, unavailability,
// and timeouts are retried internally with bounded exponential backoff;
// everything else is returned immediately.
//
// # Quick Start
//
//	gw, err := gateway.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := gw.Invoke(ctx, messages, toolDefs)
//	if resp != nil && resp.StopReason == gateway.StopToolUse {
//	    calls := resp.ToolCalls()
//	    // execute and continue the conversation
//	}
package gateway
