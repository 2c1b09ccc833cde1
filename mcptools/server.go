// Package mcptools exposes read-only agreement tools over the Model Context
// Protocol.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pactflow/agreement"
	"pactflow/view"
)

// Reader is the slice of the orchestrator the tools need.
type Reader interface {
	Get(ctx context.Context, id string) (agreement.Agreement, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	Timeline(ctx context.Context, id string) ([]agreement.TimelineEvent, error)
}

// Server wraps the mcp-go server with the agreement tools registered.
type Server struct {
	mcpServer *server.MCPServer
	reader    Reader
}

func NewServer(reader Reader, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("pactflow", version, server.WithToolCapabilities(true)),
		reader:    reader,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server for transport setup.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_agreement",
		mcp.WithDescription("Get one agreement with its status, payments and pending chain call"),
		mcp.WithString("agreement_id", mcp.Required(), mcp.Description("Off-chain agreement id")),
	), s.getAgreement)

	s.mcpServer.AddTool(mcp.NewTool("list_party_agreements",
		mcp.WithDescription("List the agreements a party created or is counterparty to"),
		mcp.WithString("party_id", mcp.Required(), mcp.Description("Party id")),
		mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
		mcp.WithNumber("page_size", mcp.Description("Items per page, at most 100")),
	), s.listPartyAgreements)

	s.mcpServer.AddTool(mcp.NewTool("get_agreement_timeline",
		mcp.WithDescription("Ordered business events recorded for an agreement"),
		mcp.WithString("agreement_id", mcp.Required(), mcp.Description("Off-chain agreement id")),
	), s.getAgreementTimeline)
}

func (s *Server) getAgreement(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("agreement_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := s.reader.Get(ctx, id)
	if err != nil {
		return toolError("get agreement", err), nil
	}
	return jsonResult(view.FromAgreement(a))
}

func (s *Server) listPartyAgreements(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	partyID, err := request.RequireString("party_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	filters := agreement.ListFilters{PartyID: partyID}
	if v, ok := args["page"].(float64); ok {
		filters.Page = int(v)
	}
	if v, ok := args["page_size"].(float64); ok {
		filters.PageSize = int(v)
	}

	items, total, err := s.reader.List(ctx, filters)
	if err != nil {
		return toolError("list agreements", err), nil
	}
	return jsonResult(map[string]any{
		"items": view.FromAgreements(items),
		"total": total,
	})
}

func (s *Server) getAgreementTimeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("agreement_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	events, err := s.reader.Timeline(ctx, id)
	if err != nil {
		return toolError("get timeline", err), nil
	}
	return jsonResult(map[string]any{
		"agreement_id": id,
		"events":       view.FromTimeline(events),
	})
}

func toolError(op string, err error) *mcp.CallToolResult {
	if errors.Is(err, agreement.ErrNotFound) {
		return mcp.NewToolResultError("agreement not found")
	}
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", op, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcptools: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
