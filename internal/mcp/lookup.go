package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/travelinfo/internal/runner"
	"github.com/deixis/travelinfo/internal/travel"
	"github.com/deixis/travelinfo/internal/verdict"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type lookupParams struct {
	Citizenship string `json:"citizenship" jsonschema:"the traveller's citizenship (country name), e.g. France"`
	Departure   string `json:"departure" jsonschema:"the country the traveller departs from, e.g. Spain"`
	Destination string `json:"destination" jsonschema:"the country the traveller is going to, e.g. Japan"`
}

func (h *handler) lookupHandler(ctx context.Context, req *mcp.CallToolRequest, params lookupParams) (*mcp.CallToolResult, any, error) {
	q := travel.Query{
		Citizenship: params.Citizenship,
		Departure:   params.Departure,
		Destination: params.Destination,
	}
	out, err := h.engine.Lookup(ctx, q, h.opts)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err))
	}

	text := formatOutcome(out)
	if !out.OK() {
		return errorResult(text)
	}
	return textResult(text)
}

func formatOutcome(o verdict.Outcome) string {
	var b strings.Builder

	if o.OK() {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintf(&b, "Status: FAIL (%s)\n", o.Kind)
	}
	if o.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", o.RunID)
	}
	fmt.Fprintln(&b)

	switch o.Kind {
	case verdict.Success:
		fmt.Fprintln(&b, "Sources:")
		for _, s := range o.Sources {
			fmt.Fprintf(&b, "  %s\n", s)
		}
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, strings.TrimSpace(o.Transcript))
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "AI-generated; verify with official government sources before travelling.")
	case verdict.TimedOut:
		fmt.Fprintln(&b, "The research agent timed out. Retry later.")
	case verdict.ToolsUnavailable:
		fmt.Fprintln(&b, "The research agent reported that web search is unavailable.")
	case verdict.NoSourcesFound:
		fmt.Fprintln(&b, "The research agent cited no web sources, so its answer was discarded.")
	case verdict.SpawnFailed:
		var se *runner.StartError
		if errors.As(o.Err, &se) && se.NotFound() {
			fmt.Fprintf(&b, "The agent binary %q is not installed on the server.\n", se.Binary)
		} else {
			fmt.Fprintf(&b, "The research agent could not be started: %v\n", o.Err)
		}
	case verdict.ProcessFailed:
		fmt.Fprintf(&b, "The research agent failed: %v\n", o.Err)
	}

	return b.String()
}
