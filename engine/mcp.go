package engine

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/boardwatch/board"
)

// RegisterMCP registers the engine's control surface as MCP tools. The
// tools mirror the HTTP API one-to-one so an agent can drive the engine
// the same way the control panel does.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	type empty struct{}

	type acceptedResult struct {
		Accepted bool `json:"accepted"`
	}

	type startRequest struct {
		Criteria *board.Criteria `json:"criteria,omitempty"`
	}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "boardwatch_start",
		Description: "Start monitoring the board. Optional criteria override the persisted ones.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in startRequest) (*mcp.CallToolResult, acceptedResult, error) {
		return nil, acceptedResult{Accepted: e.Start(ctx, in.Criteria)}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "boardwatch_stop",
		Description: "Stop monitoring. An in-flight booking runs to completion.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, acceptedResult, error) {
		return nil, acceptedResult{Accepted: e.Stop()}, nil
	})

	type criteriaRequest struct {
		Criteria board.Criteria `json:"criteria"`
	}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "boardwatch_criteria",
		Description: "Replace the match criteria. Takes effect on the next cycle.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in criteriaRequest) (*mcp.CallToolResult, acceptedResult, error) {
		e.UpdateCriteria(ctx, in.Criteria)
		return nil, acceptedResult{Accepted: true}, nil
	})

	type checkResult struct {
		Records []board.Load `json:"records"`
	}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "boardwatch_check",
		Description: "Force an immediate out-of-band cycle and return the current loads.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, checkResult, error) {
		return nil, checkResult{Records: e.CheckNow(ctx)}, nil
	})

	type bookRequest struct {
		EntryID string `json:"entry_id"`
	}
	type bookResult struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason,omitempty"`
	}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "boardwatch_book",
		Description: "Book one load by entry id and wait for the outcome.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in bookRequest) (*mcp.CallToolResult, bookResult, error) {
		o, err := e.Book(ctx, in.EntryID)
		if errors.Is(err, ErrUnknownEntry) {
			return nil, bookResult{Success: false, Reason: "unknown-entry"}, nil
		}
		if err != nil {
			return nil, bookResult{}, err
		}
		return nil, bookResult{Success: o.Success, Reason: string(o.Reason)}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "boardwatch_status",
		Description: "Report engine phase, queue length, and counters.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, board.Status, error) {
		return nil, e.Status(), nil
	})
}
