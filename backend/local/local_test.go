package local

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/toolharness/backend"
	"github.com/jonwraymond/toolharness/catalog"
)

func TestLocalBackend_KindAndName(t *testing.T) {
	b := New("weather")
	if b.Kind() != "local" {
		t.Errorf("Kind() = %q, want %q", b.Kind(), "local")
	}
	if b.Name() != "weather" {
		t.Errorf("Name() = %q, want %q", b.Name(), "weather")
	}
}

func TestLocalBackend_ListToolsSorted(t *testing.T) {
	b := New("weather")
	b.Handle("forecast", "Forecast", func(context.Context, map[string]any) (any, error) { return nil, nil })
	b.RegisterHandler("alerts", ToolDef{Description: "Alerts", InputSchema: map[string]any{"type": "object"}})

	tools, err := b.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("ListTools() returned %d tools, want 2", len(tools))
	}
	if tools[0].Name != "alerts" || tools[1].Name != "forecast" {
		t.Errorf("ListTools() order = %q, %q", tools[0].Name, tools[1].Name)
	}
	if tools[1].ID() != "weather.forecast" {
		t.Errorf("ID() = %q, want weather.forecast", tools[1].ID())
	}
}

func TestLocalBackend_Execute(t *testing.T) {
	b := New("text")
	b.Handle("echo", "Echo input", func(_ context.Context, args map[string]any) (any, error) {
		return args["message"], nil
	})

	result, err := b.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "hello" {
		t.Errorf("Execute() = %v, want %v", result, "hello")
	}
}

func TestLocalBackend_ExecuteErrors(t *testing.T) {
	b := New("text")
	b.Handle("boom", "", func(context.Context, map[string]any) (any, error) { panic("kaput") })
	b.RegisterHandler("nohandler", ToolDef{})

	if _, err := b.Execute(context.Background(), "missing", nil); !errors.Is(err, catalog.ErrToolNotFound) {
		t.Errorf("missing tool error = %v, want ErrToolNotFound", err)
	}
	if _, err := b.Execute(context.Background(), "nohandler", nil); !errors.Is(err, backend.ErrToolNotFound) {
		t.Errorf("nil handler error = %v, want ErrToolNotFound", err)
	}
	if _, err := b.Execute(context.Background(), "boom", nil); err == nil {
		t.Error("panicking handler should return an error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Execute(ctx, "boom", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled ctx error = %v", err)
	}

	b.SetEnabled(false)
	if _, err := b.Execute(context.Background(), "boom", nil); !errors.Is(err, backend.ErrBackendDisabled) {
		t.Errorf("disabled error = %v", err)
	}
}
