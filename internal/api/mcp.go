package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/rdd"
	"github.com/kalambet/rdlistings/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    ListingSource
	Analyzer Runner
	Metrics  *Metrics // optional
	Defaults analysis.Params
}

// NewMCPServer creates an MCP server exposing the analysis and stats tools
// and the listings schema resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rdlistings",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rdlistings estimates the used-vehicle price discontinuity at a mileage cutoff from a local listings database."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_rdd_analysis",
			mcp.WithDescription("Run a sharp regression discontinuity analysis of listing price on mileage at a cutoff. Unset make, model, year or trim are controlled for as categorical covariates."),
			mcp.WithString("make", mcp.Description("Vehicle make to pin, e.g. Ram")),
			mcp.WithString("model", mcp.Description("Vehicle model to pin, e.g. 1500")),
			mcp.WithNumber("year", mcp.Description("Model year to pin")),
			mcp.WithString("trim", mcp.Description("Trim to pin, e.g. Limited")),
			mcp.WithNumber("cutoff", mcp.Description("Mileage cutoff (default 100000)")),
			mcp.WithNumber("window", mcp.Description("Half-width of the mileage window around the cutoff (default 20000)")),
		),
		mcpRunAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("listing_stats",
			mcp.WithDescription("Summarize the listings table: row counts by source and inventory type, distinct makes and model year range."),
		),
		mcpListingStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"listings://schema",
			"Listings Schema",
			mcp.WithResourceDescription("SQLite DDL of the unified_vehicle_listings table and its indexes"),
			mcp.WithMIMEType("application/sql"),
		),
		mcpResourceSchema,
	)

	return s
}

func mcpRunAnalysis(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p := deps.Defaults
		for _, d := range []analysis.Dimension{analysis.DimMake, analysis.DimModel, analysis.DimTrim} {
			if v := req.GetString(d.String(), ""); v != "" {
				p.Filter = p.Filter.With(d, analysis.Pinned(v))
			}
		}
		if year := req.GetFloat("year", 0); year != 0 {
			if year != math.Trunc(year) || math.IsInf(year, 0) {
				return mcpError(fmt.Sprintf("invalid parameters: year must be a whole number, got %v", year)), nil
			}
			p.Filter = p.Filter.With(analysis.DimYear, analysis.Pinned(strconv.Itoa(int(year))))
		}
		p.Cutoff = req.GetFloat("cutoff", p.Cutoff)
		p.Window = req.GetFloat("window", p.Window)

		start := time.Now()
		res, err := deps.Analyzer.Run(ctx, p)
		if deps.Metrics != nil {
			deps.Metrics.ObserveRun(res, err, time.Since(start))
		}
		switch {
		case errors.Is(err, analysis.ErrInvalidParams):
			return mcpError(fmt.Sprintf("invalid parameters: %v", err)), nil
		case errors.Is(err, rdd.ErrInsufficientData):
			return mcpError(fmt.Sprintf("not enough listings on both sides of the cutoff: %v", err)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		return mcpText(res.Summary()), nil
	}
}

func mcpListingStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceSchema(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ddl, err := storage.SchemaDDL()
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/sql",
			Text:     ddl,
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
