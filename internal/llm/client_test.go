package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/hyperjump/kotae/internal/config"
)

func TestEchoClient(t *testing.T) {
	c := NewEchoClient()
	prompt := "Context:\n[a.txt] The cat sat on the mat.\n\nUser Query:\nWhere did the cat sit?"
	got, err := c.Generate(context.Background(), prompt)
	if err != nil {
		t.Fatal(err)
	}
	if got != prompt {
		t.Errorf("Generate = %q, want prompt verbatim", got)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Generate(ctx, prompt); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled Generate error = %v", err)
	}
}

type fakeModel struct {
	failures int
	calls    int
	prompt   string
	messages []llms.MessageContent
	opts     llms.CallOptions
	empty    bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	for _, o := range options {
		o(&f.opts)
	}
	if f.calls <= f.failures {
		return nil, errors.New("429 too many requests")
	}
	f.messages = messages
	if f.empty {
		return &llms.ContentResponse{}, nil
	}
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if tc, ok := messages[0].Parts[0].(llms.TextContent); ok {
			f.prompt = tc.Text
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "On the mat."}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainClient_Generate(t *testing.T) {
	m := &fakeModel{failures: 1}
	c := NewLangChainClient(m, WithTemperature(0.2), WithMaxTokens(64), WithMaxRetries(2), WithRetryBase(time.Millisecond))
	got, err := c.Generate(context.Background(), "Where did the cat sit?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "On the mat." {
		t.Errorf("Generate = %q", got)
	}
	if m.calls != 2 {
		t.Errorf("calls = %d, want 2", m.calls)
	}
	if m.prompt != "Where did the cat sit?" {
		t.Errorf("prompt sent = %q", m.prompt)
	}
	if m.opts.Temperature != 0.2 || m.opts.MaxTokens != 64 {
		t.Errorf("call options = %+v", m.opts)
	}
}

func TestLangChainClient_GivesUp(t *testing.T) {
	m := &fakeModel{failures: 5}
	c := NewLangChainClient(m, WithMaxRetries(1), WithRetryBase(time.Millisecond))
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if m.calls != 2 {
		t.Errorf("calls = %d, want 2", m.calls)
	}
}

func TestLangChainClient_GenerateMessages(t *testing.T) {
	m := &fakeModel{}
	c := NewLangChainClient(m)
	var _ MessageClient = c
	got, err := c.GenerateMessages(context.Background(), "Context:\n[a.txt] The cat sat on the mat.", "User Query:\nWhere?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "On the mat." {
		t.Errorf("GenerateMessages = %q", got)
	}
	tests := []struct {
		role llms.ChatMessageType
		text string
	}{
		{llms.ChatMessageTypeSystem, "Context:\n[a.txt] The cat sat on the mat."},
		{llms.ChatMessageTypeHuman, "User Query:\nWhere?"},
	}
	if len(m.messages) != len(tests) {
		t.Fatalf("sent %d messages, want %d", len(m.messages), len(tests))
	}
	for i, tt := range tests {
		msg := m.messages[i]
		if msg.Role != tt.role {
			t.Errorf("message %d role = %s, want %s", i, msg.Role, tt.role)
		}
		if tc, ok := msg.Parts[0].(llms.TextContent); !ok || tc.Text != tt.text {
			t.Errorf("message %d = %+v, want %q", i, msg.Parts, tt.text)
		}
	}
}

func TestLangChainClient_EmptyResponse(t *testing.T) {
	m := &fakeModel{empty: true}
	c := NewLangChainClient(m, WithMaxRetries(0))
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected error for a response without choices")
	}
}

func TestGenerationError(t *testing.T) {
	inner := errors.New("model overloaded")
	err := error(&GenerationError{Err: inner})
	if !errors.Is(err, inner) {
		t.Error("GenerationError should unwrap to its cause")
	}
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Error("errors.As should find GenerationError")
	}
}

func TestNew(t *testing.T) {
	c, err := New(config.LLMConfig{Provider: config.ProviderEcho}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*EchoClient); !ok {
		t.Errorf("echo provider returned %T", c)
	}
	if _, err := New(config.LLMConfig{Provider: "gpt2"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
	c, err = New(config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3.2"}, nil)
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if _, ok := c.(*LangChainClient); !ok {
		t.Errorf("ollama provider returned %T", c)
	}
}
