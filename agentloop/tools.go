package agentloop

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hshen-ai/Zscaler-Automation/gateway"
	"github.com/hshen-ai/Zscaler-Automation/mcpclient"
)

// ToolClient is the slice of the tool-server client the session uses.
// *mcpclient.Client satisfies it; tests substitute a fake.
type ToolClient interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*mcpclient.CallToolResult, error)
}

// toolDefinitions converts the discovered catalog into the wire shape
// the model backend expects.
func toolDefinitions(tools []mcp.Tool) []gateway.ToolDefinition {
	defs := make([]gateway.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		schema := map[string]interface{}{
			"type":       t.InputSchema.Type,
			"properties": t.InputSchema.Properties,
		}
		if schema["type"] == "" {
			schema["type"] = "object"
		}
		if schema["properties"] == nil {
			schema["properties"] = map[string]interface{}{}
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		defs = append(defs, gateway.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return defs
}
