package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// GraphView is the payload of the get_graph tool.
type GraphView struct {
	Graph   *domain.GraphDefinition `json:"graph"`
	Mermaid string                  `json:"mermaid"`
}

// Server wraps the Parley engine and exposes it as an MCP Server.
type Server struct {
	engine    ports.Engine
	graphs    ports.GraphStore
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine ports.Engine, graphs ports.GraphStore, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		graphs: graphs,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("parley-mcp", strings.TrimSpace(parley.Version),
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions("Parley runs conversational flows. Use start_execution to open a conversation on a graph, trigger_turn to feed it one user message at a time, get_execution to inspect it and get_graph to see the flow."),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_execution",
		mcp.WithDescription("Start a new execution of a graph for a conversation. No node runs until the first trigger_turn."),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("Graph to run")),
		mcp.WithNumber("graph_version", mcp.Description("Pinned version (default: latest)")),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Owning company")),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation the execution belongs to")),
		mcp.WithString("contact_id", mcp.Description("Contact ID")),
		mcp.WithString("contact_name", mcp.Description("Contact display name")),
		mcp.WithString("contact_phone", mcp.Description("Contact phone, used as the delivery address")),
		mcp.WithString("contact_email", mcp.Description("Contact email")),
		mcp.WithObject("variables", mcp.Description("Initial session variables")),
	), s.handleStart)

	s.mcpServer.AddTool(mcp.NewTool("trigger_turn",
		mcp.WithDescription("Run one turn of an execution, optionally consuming a user message."),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution to advance")),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Owning company")),
		mcp.WithString("user_message", mcp.Description("Message from the contact")),
	), s.handleTrigger)

	s.mcpServer.AddTool(mcp.NewTool("get_execution",
		mcp.WithDescription("Get the current snapshot of an execution."),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution to inspect")),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Owning company")),
	), s.handleGet)

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get a graph definition together with a Mermaid rendering. When execution_id is given the visited path is highlighted."),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("Graph to fetch")),
		mcp.WithNumber("graph_version", mcp.Description("Version (default: latest)")),
		mcp.WithString("execution_id", mcp.Description("Execution to overlay")),
		mcp.WithString("company_id", mcp.Description("Owning company, required with execution_id")),
	), s.handleGetGraph)
}

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	companyID, err := req.RequireString("company_id")
	if err != nil {
		return mcp.NewToolResultError("company_id is required"), nil
	}
	conversationID, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}

	exec, err := s.engine.Start(ctx, ports.StartRequest{
		GraphID:        graphID,
		GraphVersion:   req.GetInt("graph_version", 0),
		CompanyID:      companyID,
		ConversationID: conversationID,
		ContactID:      req.GetString("contact_id", ""),
		Contact: domain.Contact{
			Name:  req.GetString("contact_name", ""),
			Phone: req.GetString("contact_phone", ""),
			Email: req.GetString("contact_email", ""),
		},
		Variables: mcp.ParseStringMap(req, "variables", nil),
	})
	if err != nil {
		return s.toolError("start_execution", err), nil
	}
	return marshalResult(exec)
}

func (s *Server) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	companyID, err := req.RequireString("company_id")
	if err != nil {
		return mcp.NewToolResultError("company_id is required"), nil
	}

	resp := s.engine.Trigger(ctx, ports.TriggerRequest{
		ExecutionID: executionID,
		CompanyID:   companyID,
		UserMessage: req.GetString("user_message", ""),
	})
	if !resp.Success {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", resp.Code, resp.Error)), nil
	}
	return marshalResult(resp)
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	companyID, err := req.RequireString("company_id")
	if err != nil {
		return mcp.NewToolResultError("company_id is required"), nil
	}

	exec, err := s.engine.Get(ctx, companyID, executionID)
	if err != nil {
		return s.toolError("get_execution", err), nil
	}
	return marshalResult(exec)
}

func (s *Server) handleGetGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}

	var overlay *graph.GraphOverlay
	version := req.GetInt("graph_version", 0)
	if executionID := req.GetString("execution_id", ""); executionID != "" {
		exec, err := s.engine.Get(ctx, req.GetString("company_id", ""), executionID)
		if err != nil {
			return s.toolError("get_graph", err), nil
		}
		if exec.GraphID != graphID {
			return mcp.NewToolResultError(fmt.Sprintf("execution %s runs graph %s", executionID, exec.GraphID)), nil
		}
		version = exec.GraphVersion
		overlay = graph.OverlayFromExecution(exec)
	}

	var g *domain.GraphDefinition
	if version > 0 {
		g, err = s.graphs.Load(ctx, graphID, version)
	} else {
		g, err = s.graphs.Latest(ctx, graphID)
	}
	if err != nil {
		return s.toolError("get_graph", err), nil
	}
	return marshalResult(GraphView{Graph: g, Mermaid: graph.GenerateMermaid(g, overlay)})
}

// toolError reports engine errors as tool failures. Internal details stay in
// the log.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	code := parley.ErrorCode(err)
	if code == ports.CodeInternal {
		s.logger.Error("MCP tool failed", "tool", tool, "err", err)
		return mcp.NewToolResultError(code + ": internal error")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", code, err))
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
