package backend

import (
	"context"
	"errors"
	"testing"
)

var forecastSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"city": map[string]any{"type": "string"},
		"days": map[string]any{"type": "integer", "minimum": 1},
	},
	"required": []any{"city"},
}

func TestValidateArgs(t *testing.T) {
	rs, err := ResolveSchema(forecastSchema)
	if err != nil {
		t.Fatalf("ResolveSchema() error = %v", err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"city": "Oslo"}, false},
		{"go int is an integer", map[string]any{"city": "Oslo", "days": 3}, false},
		{"missing required", map[string]any{"days": 3}, true},
		{"nil args", nil, true},
		{"wrong type", map[string]any{"city": 42}, true},
		{"below minimum", map[string]any{"city": "Oslo", "days": 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(rs, "weather.get_forecast", tt.args)
			if tt.wantErr && !errors.Is(err, ErrInvalidArguments) {
				t.Errorf("ValidateArgs() error = %v, want ErrInvalidArguments", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateArgs() unexpected error = %v", err)
			}
		})
	}
}

func TestResolveSchema_EmptyAcceptsAnything(t *testing.T) {
	rs, err := ResolveSchema(nil)
	if err != nil || rs != nil {
		t.Fatalf("ResolveSchema(nil) = %v, %v; want nil, nil", rs, err)
	}
	if err := ValidateArgs(nil, "x.y", map[string]any{"any": true}); err != nil {
		t.Errorf("ValidateArgs(nil) error = %v", err)
	}
}

func TestResolveSchema_OlderDraft(t *testing.T) {
	rs, err := ResolveSchema(map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []any{"q"},
	})
	if err != nil {
		t.Fatalf("ResolveSchema() error = %v", err)
	}
	if err := ValidateArgs(rs, "s.q", map[string]any{}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("ValidateArgs() error = %v, want ErrInvalidArguments", err)
	}
}

func TestAggregator_ExecuteValidatesArguments(t *testing.T) {
	registry := NewRegistry(nil)
	calls := 0
	_ = registry.Register(&mockBackend{
		kind:    "local",
		name:    "weather",
		enabled: true,
		tools:   []Tool{{Name: "get_forecast", InputSchema: forecastSchema}, {Name: "ping"}},
		execFn: func(context.Context, string, map[string]any) (any, error) {
			calls++
			return "ok", nil
		},
	})
	agg := NewAggregator(registry, nil)

	_, err := agg.Execute(context.Background(), "weather.get_forecast", map[string]any{"days": 2})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("Execute() error = %v, want ErrInvalidArguments", err)
	}
	if calls != 0 {
		t.Errorf("backend called %d times for rejected arguments", calls)
	}

	if _, err := agg.Execute(context.Background(), "weather.get_forecast", map[string]any{"city": "Oslo"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := agg.Execute(context.Background(), "weather.ping", nil); err != nil {
		t.Fatalf("Execute() without schema error = %v", err)
	}
	if calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
}

func TestAggregator_ExecuteSkipsValidationWhenListingFails(t *testing.T) {
	registry := NewRegistry(nil)
	_ = registry.Register(&mockBackend{
		name:    "remote",
		enabled: true,
		listErr: errors.New("connection reset"),
		execFn: func(context.Context, string, map[string]any) (any, error) {
			return "ok", nil
		},
	})

	out, err := NewAggregator(registry, nil).Execute(context.Background(), "remote.run", nil)
	if err != nil || out != "ok" {
		t.Errorf("Execute() = %v, %v; want ok, nil", out, err)
	}
}
