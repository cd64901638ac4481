package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/psyflow/pkg/canvas"
	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/document"
	"github.com/rmax-ai/psyflow/pkg/graph"
	"github.com/rmax-ai/psyflow/pkg/workflow"
)

const experimentsURI = "psyflow://experiments"

// Server adapts the psyflow daemon to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string, version string, logger *slog.Logger, opts ...client.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"psyflow",
			version,
		),
		apiClient: client.NewClient(apiURL, opts...),
		logger:    logger,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		experimentsURI,
		"Experiments",
		mcp.WithResourceDescription("The most recent experiments with their status and revision"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadExperiments)
}

// --- Tools ---

func (s *Server) registerTools() {
	kinds := make([]string, 0, len(components.Palette()))
	for _, spec := range components.Palette() {
		kinds = append(kinds, string(spec.Kind))
	}

	s.mcpServer.AddTool(mcp.NewTool(
		"get_experiment_document",
		mcp.WithDescription("Return the saved graph document of an experiment: nodes, edges and per-node component props."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("The experiment to read")),
	), s.handleGetDocument)

	s.mcpServer.AddTool(mcp.NewTool(
		"add_component",
		mcp.WithDescription("Add a component node to an experiment and save it. Props not given take the component's defaults."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("The experiment to modify")),
		mcp.WithString("kind", mcp.Required(), mcp.Enum(kinds...), mcp.Description("Component kind")),
		mcp.WithString("label", mcp.Description("Label shown on the node")),
		mcp.WithNumber("x", mcp.Description("Canvas x position (default 100)")),
		mcp.WithNumber("y", mcp.Description("Canvas y position (default 100)")),
		mcp.WithString("props", mcp.Description("JSON object of component props, e.g. {\"text\":\"Ready?\"}")),
		mcp.WithString("after", mcp.Description("ID of the node this one follows in the timeline")),
	), s.handleAddComponent)

	s.mcpServer.AddTool(mcp.NewTool(
		"compile_experiment",
		mcp.WithDescription("Compile the saved document of an experiment into a PsychoPy script and return the script."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("The experiment to compile")),
	), s.handleCompile)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"psyflow-builder",
		mcp.WithPromptDescription("Explains how psyflow experiments are built from components"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadExperiments(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list, err := s.apiClient.ListExperiments(ctx, 0, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch experiments: %w", err)
	}

	type summary struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Status   string `json:"status"`
		Revision int64  `json:"revision"`
	}
	items := make([]summary, 0, len(list.Data))
	for _, e := range list.Data {
		items = append(items, summary{ID: e.ID, Name: e.Name, Status: string(e.Status), Revision: e.Revision})
	}

	data, err := json.MarshalIndent(map[string]any{"data": items, "count": list.Count}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal experiments: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "experiment_id", "")
	if id == "" {
		return mcp.NewToolResultError("experiment_id is required"), nil
	}

	exp, err := s.apiClient.ReadExperiment(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	doc, err := document.Parse(exp.PsyexpData)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stored document is unreadable: %v", err)), nil
	}
	if doc.ReactFlow == nil {
		doc = document.New()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleAddComponent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "experiment_id", "")
	kind := graph.Kind(mcp.ParseString(request, "kind", ""))
	label := mcp.ParseString(request, "label", "")
	rawProps := mcp.ParseString(request, "props", "")
	after := mcp.ParseString(request, "after", "")
	pos := graph.Position{
		X: mcp.ParseFloat64(request, "x", canvas.DefaultDropPosition.X),
		Y: mcp.ParseFloat64(request, "y", canvas.DefaultDropPosition.Y),
	}

	if id == "" {
		return mcp.NewToolResultError("experiment_id is required"), nil
	}
	if !components.Known(kind) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown component kind %q", kind)), nil
	}

	var props graph.Props
	if strings.TrimSpace(rawProps) != "" {
		if err := json.Unmarshal([]byte(rawProps), &props); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("props must be a JSON object: %v", err)), nil
		}
	}
	cfg, err := components.Decode(kind, pos, components.Defaults(kind, pos).Merge(props))
	if err == nil {
		err = components.Validate(cfg)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid props: %v", err)), nil
	}

	wf := workflow.New(s.apiClient, workflow.WithLogger(s.logger))
	gs, err := wf.Open(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	defer wf.Close()

	if after != "" {
		if _, ok := gs.Node(after); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("node %q does not exist", after)), nil
		}
	}

	ctrl := canvas.NewController(gs)
	node := ctrl.Drop(kind, &pos)
	if label != "" {
		ctrl.Rename(node.ID, label)
	}
	if len(props) > 0 {
		gs.SetNodeProps(node.ID, props)
	}
	if after != "" {
		ctrl.Connect(after, node.ID, graph.Ports{})
	}

	exp, err := wf.Save(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Added %s node %s to experiment %s (revision %d)", kind, node.ID, id, exp.Revision)), nil
}

func (s *Server) handleCompile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "experiment_id", "")
	if id == "" {
		return mcp.NewToolResultError("experiment_id is required"), nil
	}

	exp, err := s.apiClient.CompileExperiment(ctx, id)
	if err != nil {
		if detail := client.Detail(err); detail != "" {
			return mcp.NewToolResultError("Compilation failed: " + detail), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(exp.PythonCode), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "psyflow-builder" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	var kinds strings.Builder
	for _, spec := range components.Palette() {
		fmt.Fprintf(&kinds, "- %s: %s (%s)\n", spec.Kind, spec.Title, spec.Category)
	}

	promptText := `You are building a behavioural experiment in psyflow.

An experiment is a graph. Each node is a component placed on a canvas; edges
give the order in which components run. Every node has a props record with its
configuration. Available components:
` + kinds.String() + `
Use 'get_experiment_document' to see the current graph, 'add_component' to add
a node (pass 'after' to chain it behind an existing node), and
'compile_experiment' to produce the PsychoPy script. Compiling uses the saved
document, and add_component saves for you.
`

	return mcp.NewGetPromptResult(
		"psyflow-builder",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
