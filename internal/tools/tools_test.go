package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tranvh/contextgate/pkg/models"
)

func weatherSchema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "get_weather",
		Description: "Get the current weather for a city",
		Properties: map[string]models.ToolProperty{
			"city":  {Type: "string", Description: "City name"},
			"units": {Type: "string", Default: "metric", Enum: []any{"metric", "imperial"}},
		},
		Required: []string{"city"},
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(weatherSchema()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Register(weatherSchema()); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := r.Register(models.ToolSchema{}); err == nil {
		t.Error("empty name should fail")
	}

	got, ok := r.Get("get_weather")
	if !ok || got.Description == "" {
		t.Errorf("Get = %+v, %v", got, ok)
	}
	if len(r.List()) != 1 {
		t.Errorf("List = %d tools, want 1", len(r.List()))
	}
}

func TestApplyDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(weatherSchema()); err != nil {
		t.Fatal(err)
	}

	t.Run("missing default injected", func(t *testing.T) {
		out, err := r.ApplyDefaults("get_weather", json.RawMessage(`{"city":"Hanoi"}`))
		if err != nil {
			t.Fatalf("ApplyDefaults: %v", err)
		}
		var args map[string]any
		if err := json.Unmarshal(out, &args); err != nil {
			t.Fatal(err)
		}
		if args["city"] != "Hanoi" {
			t.Errorf("city = %v", args["city"])
		}
		if args["units"] != "metric" {
			t.Errorf("units = %v, want metric (schema default)", args["units"])
		}
	})

	t.Run("explicit value kept", func(t *testing.T) {
		out, err := r.ApplyDefaults("get_weather", json.RawMessage(`{"city":"Hanoi","units":"imperial"}`))
		if err != nil {
			t.Fatal(err)
		}
		var args map[string]any
		_ = json.Unmarshal(out, &args)
		if args["units"] != "imperial" {
			t.Errorf("units = %v, want imperial", args["units"])
		}
	})

	t.Run("missing required rejected", func(t *testing.T) {
		if _, err := r.ApplyDefaults("get_weather", json.RawMessage(`{}`)); err == nil {
			t.Error("missing required city should fail validation")
		}
	})

	t.Run("wrong type rejected", func(t *testing.T) {
		if _, err := r.ApplyDefaults("get_weather", json.RawMessage(`{"city":42}`)); err == nil {
			t.Error("numeric city should fail validation")
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		if _, err := r.ApplyDefaults("nope", nil); err == nil {
			t.Error("unknown tool should fail")
		}
	})
}

func TestDisplayBlockFormat(t *testing.T) {
	block := DisplayBlock{
		Name:     "get_weather",
		Args:     json.RawMessage(`{"city":"Hanoi","units":"metric"}`),
		Result:   `{"temp": "31°C", "note": "hot & humid <today>"}`,
		Expanded: true,
	}
	out := block.Format()

	if !strings.HasPrefix(out, "<tool-call data-tool='get_weather' data-expanded='true'>") {
		t.Errorf("unexpected opening tag:\n%s", out)
	}
	if !strings.HasSuffix(out, "</tool-call>") {
		t.Errorf("missing closing tag:\n%s", out)
	}
	if strings.Contains(out, "data-error") {
		t.Error("data-error must be absent for successful calls")
	}
	if !strings.Contains(out, "  \"city\": \"Hanoi\"") {
		t.Errorf("arguments should be two-space indented:\n%s", out)
	}
	if !strings.Contains(out, "hot &amp; humid &lt;today&gt;") {
		t.Errorf("result should be entity-escaped:\n%s", out)
	}
}

func TestDisplayBlockFormatError(t *testing.T) {
	block := DisplayBlock{
		Name:    "get_weather",
		Args:    json.RawMessage(`{"city":"Hanoi"}`),
		Result:  "upstream timeout",
		IsError: true,
	}
	out := block.Format()

	if !strings.Contains(out, "data-expanded='false'") {
		t.Errorf("collapsed block should carry data-expanded='false':\n%s", out)
	}
	if !strings.Contains(out, "data-error='true'") {
		t.Errorf("failed call should carry data-error='true':\n%s", out)
	}
}
