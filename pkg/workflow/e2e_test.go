package workflow_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/psyflow/pkg/api"
	"github.com/rmax-ai/psyflow/pkg/blob"
	"github.com/rmax-ai/psyflow/pkg/canvas"
	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/compiler"
	"github.com/rmax-ai/psyflow/pkg/editor"
	"github.com/rmax-ai/psyflow/pkg/graph"
	"github.com/rmax-ai/psyflow/pkg/logging"
	"github.com/rmax-ai/psyflow/pkg/store"
	"github.com/rmax-ai/psyflow/pkg/workflow"
)

func startDaemon(t *testing.T) *client.Client {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "psyflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	comp, err := compiler.New()
	require.NoError(t, err)

	srv := api.NewServer(st, comp, "",
		api.WithCompileLocker(st),
		api.WithBlobStore(blob.NewLocalBlobStore(filepath.Join(dir, "artifacts"))),
		api.WithLogger(logging.Discard()),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return client.NewClient(ts.URL)
}

func TestEndToEnd_TextNodeSaveCompile(t *testing.T) {
	ctx := context.Background()
	c := startDaemon(t)

	exp, err := c.CreateExperiment(ctx, client.CreateRequest{Name: "Hello"})
	require.NoError(t, err)

	cached := client.NewCachedReader(c, client.NewMemoryCache(0))
	rec := &workflow.Recorder{}
	wf := workflow.New(cached, workflow.WithNotifier(rec), workflow.WithLogger(logging.Discard()))

	gs, err := wf.Open(ctx, exp.ID)
	require.NoError(t, err)
	assert.Empty(t, gs.Nodes())

	ctrl := canvas.NewController(gs)
	node := ctrl.Drop(graph.KindText, nil)

	doc := gs.ToDocument()
	require.Len(t, doc.ReactFlow.Nodes, 1)
	assert.Equal(t, "text", doc.ReactFlow.Nodes[0].Type)
	assert.Equal(t, "text", doc.ReactFlow.Nodes[0].Data["type"])
	assert.Equal(t, map[string]map[string]any{
		node.ID: {"text": "Hello World", "duration": 1.0, "x": 100.0, "y": 100.0},
	}, doc.ComponentProps)

	compiled, err := wf.Compile(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, compiled.PythonCode)
	assert.Contains(t, compiled.PythonCode, "Hello World")
	assert.Equal(t, store.StatusCompiled, compiled.Status)
	assert.Equal(t, workflow.StateCompiled, wf.State())

	// The cached copy was invalidated, so a fresh open sees the saved graph.
	reopened, err := wf.Open(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, gs.Nodes(), reopened.Nodes())
	assert.Equal(t, gs.AllProps(), reopened.AllProps())
}

func TestEndToEnd_EditThenCompile(t *testing.T) {
	ctx := context.Background()
	c := startDaemon(t)

	exp, err := c.CreateExperiment(ctx, client.CreateRequest{Name: "Edits"})
	require.NoError(t, err)

	wf := workflow.New(c, workflow.WithLogger(logging.Discard()))
	gs, err := wf.Open(ctx, exp.ID)
	require.NoError(t, err)

	ctrl := canvas.NewController(gs)
	text := ctrl.Drop(graph.KindText, nil)
	kb := ctrl.Drop(graph.KindKeyboard, &graph.Position{X: 300, Y: 100})
	_, ok := ctrl.Connect(text.ID, kb.ID, graph.Ports{})
	require.True(t, ok)

	panel := editor.NewPanel(gs, nil)
	defer panel.Attach(gs)()

	ctrl.Click(text.ID)
	require.NoError(t, panel.Edit("text", "Goodbye"))
	ctrl.Click(kb.ID)
	require.NoError(t, panel.Edit("store_correct", true))
	require.NoError(t, panel.Edit("correct_answer", "space"))

	compiled, err := wf.Compile(ctx)
	require.NoError(t, err)

	code := compiled.PythonCode
	textAt := strings.Index(code, "Goodbye")
	kbAt := strings.Index(code, "# Node: keyboard (keyboard)")
	require.NotEqual(t, -1, textAt, code)
	require.NotEqual(t, -1, kbAt, code)
	assert.Less(t, textAt, kbAt, "timeline order follows the edge")
}

func TestEndToEnd_InvalidPropsSurfaceDetail(t *testing.T) {
	ctx := context.Background()
	c := startDaemon(t)

	exp, err := c.CreateExperiment(ctx, client.CreateRequest{Name: "Broken"})
	require.NoError(t, err)

	rec := &workflow.Recorder{}
	wf := workflow.New(c, workflow.WithNotifier(rec), workflow.WithLogger(logging.Discard()))
	gs, err := wf.Open(ctx, exp.ID)
	require.NoError(t, err)

	node := canvas.NewController(gs).Drop(graph.KindSound, nil)
	gs.SetNodeProps(node.ID, graph.Props{"volume": 4.0})

	_, err = wf.Compile(ctx)
	require.Error(t, err)
	assert.Equal(t, workflow.StateCompileFailed, wf.State())

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, "Compilation failed.", last.Title)
	assert.Contains(t, last.Description, "Volume")

	// The save half went through before the compile failed.
	saved, err := c.ReadExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Contains(t, string(saved.PsyexpData), `"volume":4`)
}
