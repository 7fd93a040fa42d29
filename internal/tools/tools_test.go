package tools

import (
	"context"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo " + name,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(echoTool("echo")); err == nil {
		t.Error("duplicate registration should fail")
	}

	bad := []*Tool{
		nil,
		{Name: "", Handler: func(context.Context, map[string]any) (any, error) { return nil, nil }},
		{Name: "no_handler"},
		{
			Name:       "bad_schema",
			Parameters: map[string]any{"type": "not-a-type"},
			Handler:    func(context.Context, map[string]any) (any, error) { return nil, nil },
		},
	}
	for _, tool := range bad {
		if err := reg.Register(tool); err == nil {
			t.Errorf("Register(%+v) should fail", tool)
		}
	}

	if !reg.Has("echo") || reg.Has("bad_schema") {
		t.Errorf("Names = %v", reg.Names())
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"zeta", "alpha"} {
		if err := reg.Register(echoTool(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Register(&Tool{
		Name:    "bare",
		Handler: func(context.Context, map[string]any) (any, error) { return "ok", nil },
	}); err != nil {
		t.Fatal(err)
	}

	defs := reg.List()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}

	var names []string
	for _, d := range defs {
		if d["type"] != "function" {
			t.Errorf("type = %v", d["type"])
		}
		fn := d["function"].(map[string]any)
		names = append(names, fn["name"].(string))
		if fn["parameters"] == nil {
			t.Errorf("%s: parameters must always be present", fn["name"])
		}
	}
	want := []string{"alpha", "bare", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names = %v, want %v", names, want)
			break
		}
	}
}

func TestRegistry_ValidateArgs(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"text": "hi"}, false},
		{"missing required", map[string]any{}, true},
		{"nil args", nil, true},
		{"wrong type", map[string]any{"text": 42}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.validateArgs("echo", tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := reg.validateArgs("missing", nil); err == nil {
		t.Error("unknown tool should fail validation")
	}
}
