// Package mcp exposes the contract service as Model Context Protocol tools
// over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/ericksa/contractd/internal/audit"
	"github.com/ericksa/contractd/internal/contracts"
	"github.com/ericksa/contractd/internal/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	ToolSubmit  = "contract_submit"
	ToolGet     = "contract_get"
	ToolList    = "contract_list"
	ToolAnalyze = "contract_analyze"
	ToolHistory = "contract_history"
)

type SubmitInput struct {
	Text  string `json:"text" jsonschema:"full text of the contract"`
	Token string `json:"token" jsonschema:"auth token of the submitting user, forwarded verbatim"`
}

type GetInput struct {
	ID string `json:"id" jsonschema:"contract id"`
}

type ListInput struct {
	Token string `json:"token" jsonschema:"auth token of the user whose contracts are listed"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of contracts"`
}

type AnalyzeInput struct {
	ID    string `json:"id" jsonschema:"contract id"`
	Token string `json:"token" jsonschema:"auth token forwarded to the analysis service"`
}

type HistoryInput struct {
	ID    string `json:"id" jsonschema:"contract id"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of entries"`
}

type toolFunc func(ctx context.Context, args json.RawMessage) (any, error)

type Handler struct {
	svc     *contracts.Service
	audit   *audit.Auditor
	metrics *metrics.Collector
	logger  *zap.Logger
	tools   map[string]toolFunc
	server  *mcp.Server
	http    http.Handler
}

func NewHandler(svc *contracts.Service, auditor *audit.Auditor, m *metrics.Collector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		svc:     svc,
		audit:   auditor,
		metrics: m,
		logger:  logger,
		tools:   make(map[string]toolFunc),
	}
	h.initMCPServer()
	return h
}

func (h *Handler) initMCPServer() {
	h.server = mcp.NewServer(&mcp.Implementation{
		Name:    "contractd",
		Version: "1.0.0",
	}, nil)

	addTool(h, ToolSubmit, "Store a contract for the token's user and start its analysis. Identical text for the same user returns the existing record flagged as duplicate.",
		func(ctx context.Context, in SubmitInput) (any, error) {
			user, err := h.svc.VerifyUser(ctx, in.Token)
			if err != nil {
				return nil, err
			}
			return h.svc.SaveContract(ctx, in.Text, user.ID, in.Token)
		})

	addTool(h, ToolGet, "Fetch a contract with its analyses and a readable analysis status.",
		func(ctx context.Context, in GetInput) (any, error) {
			return h.svc.GetContractWithAnalyses(ctx, in.ID)
		})

	addTool(h, ToolList, "List the token user's contracts, newest first, with embedded analyses.",
		func(ctx context.Context, in ListInput) (any, error) {
			user, err := h.svc.VerifyUser(ctx, in.Token)
			if err != nil {
				return nil, err
			}
			list, err := h.svc.ListUserContracts(ctx, user.ID, in.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"data": list, "count": len(list)}, nil
		})

	addTool(h, ToolAnalyze, "Return the stored analysis of a contract, or start one if none exists and none is running.",
		func(ctx context.Context, in AnalyzeInput) (any, error) {
			if _, err := h.svc.VerifyUser(ctx, in.Token); err != nil {
				return nil, err
			}
			return h.svc.Retrigger(ctx, in.ID, in.Token)
		})

	addTool(h, ToolHistory, "Audit trail of a contract, newest first.",
		func(ctx context.Context, in HistoryInput) (any, error) {
			return h.svc.History(ctx, in.ID, in.Limit)
		})

	h.http = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return h.server
	}, nil)
}

// addTool registers fn both with the MCP server and for ExecuteTool.
func addTool[In any](h *Handler, name, desc string, fn func(ctx context.Context, in In) (any, error)) {
	h.tools[name] = func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
		}
		return fn(ctx, in)
	}

	mcp.AddTool(h.server, &mcp.Tool{
		Name:        name,
		Description: desc,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		out, err := h.run(ctx, name, func(ctx context.Context) (any, error) { return fn(ctx, in) })
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					&mcp.TextContent{Text: err.Error()},
				},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: string(out)},
			},
		}, nil, nil
	})
}

// run executes one tool call and records it.
func (h *Handler) run(ctx context.Context, name string, call func(context.Context) (any, error)) ([]byte, error) {
	out, err := call(ctx)
	var data []byte
	if err == nil {
		data, err = json.Marshal(out)
	}
	h.audit.Log(ctx, "mcp:"+name, audit.ActionToolCall, name, err)
	h.metrics.ToolCall(name, err)
	if err != nil {
		h.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		return nil, err
	}
	return data, nil
}

// Tools lists the registered tool names.
func (h *Handler) Tools() []string {
	names := make([]string, 0, len(h.tools))
	for name := range h.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) Server() *mcp.Server { return h.server }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.server == nil {
		http.Error(w, "MCP server not initialized", http.StatusInternalServerError)
		return
	}
	h.http.ServeHTTP(w, r)
}

// ExecuteTool runs a tool by name with JSON arguments, outside any MCP session.
func (h *Handler) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) ([]byte, error) {
	fn, ok := h.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", toolName)
	}
	return h.run(ctx, toolName, func(ctx context.Context) (any, error) { return fn(ctx, args) })
}
