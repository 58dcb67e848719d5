// Package mcp exposes the management controller as an MCP server, so
// agent tooling can execute operations and read the model over stdio.
package mcp

import (
	"context"
	"strings"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps a controller and exposes it as an MCP server.
type Server struct {
	controller ports.Controller
	mcpServer  *server.MCPServer
}

// NewServer creates an MCP server for the controller.
func NewServer(controller ports.Controller, version string) *Server {
	s := &Server{
		controller: controller,
		mcpServer:  server.NewMCPServer("castellan-mcp", strings.TrimSpace(version)),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	executeTool := mcp.NewTool("execute-operation",
		mcp.WithDescription("Execute a management operation. The argument is the full operation as JSON, including \"operation\" and \"address\"."),
		mcp.WithString("operation", mcp.Required(), mcp.Description("The operation value as a JSON object")),
	)
	s.mcpServer.AddTool(executeTool, s.handleExecute)

	readTool := mcp.NewTool("read-resource",
		mcp.WithDescription("Read a node of the management model. The address uses the path form /type=name/type=name."),
		mcp.WithString("address", mcp.Description("Path-form address; empty or / reads the root")),
		mcp.WithBoolean("recursive", mcp.Description("Include nested resources")),
	)
	s.mcpServer.AddTool(readTool, s.handleReadResource)
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	raw, ok := args["operation"].(string)
	if !ok || raw == "" {
		return mcp.NewToolResultError("operation argument is required"), nil
	}
	operation, err := model.FromJSON(strings.NewReader(raw))
	if err != nil {
		return mcp.NewToolResultError("invalid operation JSON: " + err.Error()), nil
	}
	result := s.controller.Execute(ctx, operation)
	return mcp.NewToolResultText(result.JSONString(false)), nil
}

func (s *Server) handleReadResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, _ := args["address"].(string)
	if path == "" {
		path = "/"
	}
	address, err := parseAddress(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	operation := model.Operation("read-resource", address)
	recursive, _ := args["recursive"].(bool)
	operation.Get("recursive").SetBoolean(recursive)
	result := s.controller.Execute(ctx, operation)
	return mcp.NewToolResultText(result.JSONString(false)), nil
}

func parseAddress(path string) (model.Address, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return model.EmptyAddress, nil
	}
	var address model.Address
	for _, segment := range strings.Split(path, "/") {
		key, value, found := strings.Cut(segment, "=")
		if !found || key == "" || value == "" {
			return nil, &addressError{segment: segment}
		}
		address = address.Append(model.Element(key, value))
	}
	return address, nil
}

type addressError struct {
	segment string
}

func (e *addressError) Error() string {
	return "bad address segment " + e.segment + ": expected type=name"
}
