// Package agentloop orchestrates a Bedrock-backed model and an MCP tool
// server into an agentic loop.
//
// A Session owns the conversation history. Each Submit appends the user
// input, then alternates model invocations with tool execution: when
// the model requests tools, the session runs them through the tool
// client, feeds every result back, and invokes again. The loop ends
// when the model answers without requesting tools or when the
// per-input iteration budget is exhausted.
//
// Policy blocks from the AI Guard gateway and iteration-limit exits
// leave the session usable for the next input; authentication and
// request-shape failures close it.
//
// # Quick Start
//
//	tools, _ := mcpclient.Launch("python3", []string{"-m", "my_server"})
//	tools.Initialize(ctx)
//	defer tools.Close()
//
//	gw, _ := gateway.New(ctx, cfg, logger)
//	session := agentloop.NewSession(gw, tools, nil)
//	defer session.Close()
//
//	answer, err := session.Submit(ctx, "What is in the inventory?")
package agentloop
