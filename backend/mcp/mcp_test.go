package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolharness/backend"
)

func startServer(t *testing.T) mcpsdk.Transport {
	t.Helper()
	ctx := context.Background()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "remote", Version: "0.1.0"}, &mcpsdk.ServerOptions{HasTools: true})
	server.AddTool(&mcpsdk.Tool{
		Name:        "echo",
		Description: "Echo the message argument",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		msg, _ := args["message"].(string)
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}}}, nil
	})
	server.AddTool(&mcpsdk.Tool{
		Name:        "fail",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "quota exceeded"}},
		}, nil
	})

	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	return ct
}

func TestConfig_Validate(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "Name")

	_, err = New(Config{Name: "x", Command: "some-server"})
	require.NoError(t, err)
}

func TestBackend_ListAndExecute(t *testing.T) {
	ctx := context.Background()
	b, err := New(Config{Name: "remote", Transport: startServer(t)})
	require.NoError(t, err)
	assert.Equal(t, "mcp", b.Kind())

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { _ = b.Stop() })

	tools, err := b.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "remote.echo", tools[0].ID())
	assert.Equal(t, "Echo the message argument", tools[0].Description)
	assert.Equal(t, "object", tools[0].InputSchema["type"])

	out, err := b.Execute(ctx, "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = b.Execute(ctx, "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestBackend_ThroughAggregator(t *testing.T) {
	ctx := context.Background()
	b, err := New(Config{Name: "remote", Transport: startServer(t)})
	require.NoError(t, err)

	reg := backend.NewRegistry(nil)
	require.NoError(t, reg.Register(b))
	require.NoError(t, reg.StartAll(ctx))
	t.Cleanup(func() { _ = reg.StopAll() })

	out, err := backend.NewAggregator(reg, nil).Execute(ctx, "remote.echo", map[string]any{"message": "via aggregator"})
	require.NoError(t, err)
	assert.Equal(t, "via aggregator", out)
}

func TestBackend_NotStartedOrDisabled(t *testing.T) {
	b, err := New(Config{Name: "remote", Command: "unused"})
	require.NoError(t, err)

	_, err = b.ListTools(context.Background())
	assert.True(t, errors.Is(err, backend.ErrBackendUnavailable))

	b.SetEnabled(false)
	_, err = b.Execute(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, backend.ErrBackendDisabled)

	assert.NoError(t, b.Stop())
}
