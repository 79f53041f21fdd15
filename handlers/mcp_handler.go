package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/services"
	"github.com/upb/command-bridge/services/commands"
	"go.uber.org/zap"
)

type listTargetsInput struct{}

type selectTargetInput struct {
	ResourceKey  string `json:"resource_key,omitempty" jsonschema:"resource key the backend registered with"`
	ConnectionID string `json:"connection_id,omitempty" jsonschema:"connection id as returned by list_targets"`
}

type executeCommandInput struct {
	Command     string `json:"command" jsonschema:"command name understood by the backend"`
	Payload     any    `json:"payload,omitempty" jsonschema:"command arguments"`
	ResourceKey string `json:"resource_key,omitempty" jsonschema:"send to this backend instead of the active target"`
}

// NewMCPServer exposes the caller commands as MCP tools. Each tool call
// resolves the caller again from the headers of the HTTP request that carried it.
func NewMCPServer(deps *app.Dependencies) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "command-bridge", Version: Version}, nil)
	t := &mcpTools{deps: deps}

	mcp.AddTool(server, &mcp.Tool{
		Name:        commands.CommandListTargets,
		Description: "Lists the backends registered for the caller's tenant",
	}, t.listTargets)
	mcp.AddTool(server, &mcp.Tool{
		Name:        commands.CommandSelectTarget,
		Description: "Selects the backend that receives subsequent commands",
	}, t.selectTarget)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_command",
		Description: "Runs a command on the active backend or on the backend named by resource_key",
	}, t.executeCommand)

	return server
}

// MCPHandler serves the MCP streamable HTTP transport at /mcp.
func MCPHandler(deps *app.Dependencies) http.Handler {
	server := NewMCPServer(deps)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

type mcpTools struct {
	deps *app.Dependencies
}

func (t *mcpTools) listTargets(ctx context.Context, req *mcp.CallToolRequest, _ listTargetsInput) (*mcp.CallToolResult, any, error) {
	ctx, err := t.resolve(ctx, req)
	if err != nil {
		return toolError(err), nil, nil
	}
	list, err := t.deps.Dispatcher.ListTargets(ctx)
	return t.toolResult(list, err), nil, nil
}

func (t *mcpTools) selectTarget(ctx context.Context, req *mcp.CallToolRequest, in selectTargetInput) (*mcp.CallToolResult, any, error) {
	ctx, err := t.resolve(ctx, req)
	if err != nil {
		return toolError(err), nil, nil
	}
	target, err := t.deps.Dispatcher.SelectTarget(ctx, commands.SelectRequest{
		ResourceKey:  in.ResourceKey,
		ConnectionID: in.ConnectionID,
	})
	return t.toolResult(target, err), nil, nil
}

func (t *mcpTools) executeCommand(ctx context.Context, req *mcp.CallToolRequest, in executeCommandInput) (*mcp.CallToolResult, any, error) {
	ctx, err := t.resolve(ctx, req)
	if err != nil {
		return toolError(err), nil, nil
	}

	var payload json.RawMessage
	if in.Payload != nil {
		if payload, err = json.Marshal(in.Payload); err != nil {
			return toolError(services.Invalidf("payload: %v", err)), nil, nil
		}
	}

	var result json.RawMessage
	if in.ResourceKey != "" {
		result, err = t.deps.Dispatcher.ForwardTo(ctx, in.ResourceKey, in.Command, payload)
	} else {
		result, err = t.deps.Dispatcher.Execute(ctx, in.Command, payload)
	}
	return t.toolResult(result, err), nil, nil
}

func (t *mcpTools) resolve(ctx context.Context, req *mcp.CallToolRequest) (context.Context, error) {
	r := &http.Request{Header: http.Header{}}
	if req.Extra != nil && req.Extra.Header != nil {
		r.Header = req.Extra.Header
	}

	callerID := middleware.CallerID(r)
	if callerID == "" && req.Session != nil {
		callerID = req.Session.ID()
	}
	return t.deps.Resolver.Resolve(ctx, middleware.ExtractToken(r), callerID)
}

func (t *mcpTools) toolResult(v interface{}, err error) *mcp.CallToolResult {
	if err != nil {
		if services.IsInternalError(err) || services.IsConfigurationError(err) {
			t.deps.Logger.Error("mcp tool failed", zap.Error(err))
		}
		return toolError(err)
	}

	text, ok := v.(json.RawMessage)
	if !ok {
		b, mErr := json.Marshal(v)
		if mErr != nil {
			return toolError(services.WrapInternal("failed to encode result", mErr))
		}
		text = b
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}
}

// toolError reports a failure as a tool result so the model can read it.
func toolError(err error) *mcp.CallToolResult {
	text := services.GetErrorCode(err)
	if text == "" {
		text = "internal_error"
	}
	text += ": " + services.GetErrorMessage(err)
	if services.IsInternalError(err) {
		text = "internal_error: an internal error occurred"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
