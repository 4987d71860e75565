package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage_User(t *testing.T) {
	t.Parallel()

	got := convertMessage(types.UserMessage("alice", "Hello!"))
	if got.Role != "user" {
		t.Errorf("expected role user, got %q", got.Role)
	}
	if got.ContentString() != "alice: Hello!" {
		t.Errorf("expected content %q, got %q", "alice: Hello!", got.ContentString())
	}
}

func TestConvertMessage_ModelBecomesAssistant(t *testing.T) {
	t.Parallel()

	got := convertMessage(types.ModelMessage("Hi there!"))
	if got.Role != "assistant" {
		t.Errorf("expected role assistant, got %q", got.Role)
	}
	if got.ContentString() != "Hi there!" {
		t.Errorf("expected content %q, got %q", "Hi there!", got.ContentString())
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_Order(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gemini-2.0-flash"}
	params := p.buildParams(llm.Request{
		SystemPrompt: "be brief",
		History: []types.Message{
			types.UserMessage("bob", "first"),
			types.ModelMessage("reply"),
		},
		Message:   "bob: second",
		MaxTokens: 128,
	})

	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", params.Model)
	}
	want := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem},
		{Role: "user"},
		{Role: "assistant"},
		{Role: "user"},
	}
	if len(params.Messages) != len(want) {
		t.Fatalf("messages = %d, want %d", len(params.Messages), len(want))
	}
	for i := range want {
		if params.Messages[i].Role != want[i].Role {
			t.Errorf("messages[%d].Role = %q, want %q", i, params.Messages[i].Role, want[i].Role)
		}
	}
	if got := params.Messages[3].ContentString(); got != "bob: second" {
		t.Errorf("last message = %q", got)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("MaxTokens = %v, want 128", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemNoLimit(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.Request{Message: "x"})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if params.MaxTokens != nil {
		t.Errorf("MaxTokens = %v, want nil", *params.MaxTokens)
	}
}

// ── constructors ──────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "model"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("gemini", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("unknown-backend", "model", anyllmlib.WithAPIKey("k")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_Gemini(t *testing.T) {
	t.Parallel()

	p, err := NewGemini("gemini-2.0-flash", anyllmlib.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name = %q, want gemini", p.Name())
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"gemini", "OpenAI", "ollama"} {
		if !Supported(name) {
			t.Errorf("Supported(%q) = false", name)
		}
	}
	if Supported("local") {
		t.Error("Supported(local) = true")
	}
}
