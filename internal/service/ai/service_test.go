package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nijichat/internal/config"
	"nijichat/internal/models"
)

type stubCompleter struct {
	output string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.output, s.err
}

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func assistantMsg(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content}
}

func TestBuildPromptFormat(t *testing.T) {
	prompt := BuildPrompt([]models.Message{userMsg("hi"), assistantMsg("hello"), userMsg("how are you?")})
	want := "Previous conversation:\nHuman: hi\nAssistant: hello\nHuman: how are you?\n\nHuman: how are you?\n\nAssistant:"
	assert.Equal(t, want, prompt)
}

func TestBuildPromptKeepsLastFive(t *testing.T) {
	var thread []models.Message
	for i := range 10 {
		if i%2 == 0 {
			thread = append(thread, userMsg(fmt.Sprintf("q%d", i)))
		} else {
			thread = append(thread, assistantMsg(fmt.Sprintf("a%d", i)))
		}
	}
	prompt := BuildPrompt(thread)
	body := strings.TrimPrefix(prompt, "Previous conversation:\n")
	ctxBlock, _, found := strings.Cut(body, "\n\n")
	require.True(t, found)
	lines := strings.Split(ctxBlock, "\n")
	require.Len(t, lines, ContextWindow)
	assert.Equal(t, "Assistant: a5", lines[0])
	assert.Equal(t, "Assistant: a9", lines[4])
	assert.NotContains(t, prompt, "q4")
	assert.True(t, strings.HasSuffix(prompt, "\n\nHuman: a9\n\nAssistant:"))
}

func TestFallbackLadder(t *testing.T) {
	cases := map[string]string{
		"Who are you?":                       IdentityReply,
		"what is YOUR NAME":                  IdentityReply,
		"Who created you and why":            IdentityReply,
		"what are you exactly":               IdentityReply,
		"Which is the most powerful AI?":     PowerfulAIReply,
		"who are you, the most powerful ai?": IdentityReply,
		"tell me a joke":                     UnavailableReply,
		"":                                   UnavailableReply,
	}
	for input, want := range cases {
		assert.Equal(t, want, Fallback(input), "input %q", input)
	}
}

func TestGenerateReturnsCompletion(t *testing.T) {
	stub := &stubCompleter{output: "Sure, here you go."}
	svc := NewService(stub, time.Second, nil)
	reply := svc.Generate(context.Background(), []models.Message{userMsg("help me")})
	assert.Equal(t, "Sure, here you go.", reply)
	assert.Contains(t, stub.prompt, "Human: help me")
}

func TestGenerateStripsEchoedPrompt(t *testing.T) {
	thread := []models.Message{userMsg("hello")}
	prompt := BuildPrompt(thread)
	svc := NewService(&stubCompleter{output: prompt + "  Hi there!\n"}, time.Second, nil)
	assert.Equal(t, "Hi there!", svc.Generate(context.Background(), thread))
}

func TestGenerateEmptyOutputApologizes(t *testing.T) {
	thread := []models.Message{userMsg("hello")}
	prompt := BuildPrompt(thread)
	for _, out := range []string{"", prompt, prompt + "   "} {
		svc := NewService(&stubCompleter{output: out}, time.Second, nil)
		assert.Equal(t, EmptyReply, svc.Generate(context.Background(), thread))
	}
}

func TestGenerateFailureUsesFallback(t *testing.T) {
	svc := NewService(&stubCompleter{err: errors.New("boom")}, time.Second, nil)
	assert.Equal(t, IdentityReply, svc.Generate(context.Background(), []models.Message{userMsg("Who are you?")}))
	assert.Equal(t, UnavailableReply, svc.Generate(context.Background(), []models.Message{userMsg("weather?")}))
}

func TestGenerateEmptyThread(t *testing.T) {
	svc := NewService(&stubCompleter{output: "unused"}, time.Second, nil)
	assert.Equal(t, UnavailableReply, svc.Generate(context.Background(), nil))
}

func TestInferenceClientRequestShape(t *testing.T) {
	var got inferenceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"generated_text":"pong"}]`))
	}))
	defer srv.Close()

	client := NewInferenceClient(srv.URL, "secret", srv.Client())
	out, err := client.Complete(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.Equal(t, "ping", got.Inputs)
	assert.Equal(t, DefaultParameters, got.Parameters)
}

func TestInferenceClientThroughService(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		input  string
		want   string
	}{
		{"server error", http.StatusInternalServerError, `oops`, "what is your name", IdentityReply},
		{"invalid json", http.StatusOK, `not json`, "the most powerful ai", PowerfulAIReply},
		{"null body", http.StatusOK, `null`, "hello", UnavailableReply},
		{"empty array", http.StatusOK, `[]`, "hello", EmptyReply},
		{"object body", http.StatusOK, `{"generated_text":"x"}`, "hello", EmptyReply},
		{"missing field", http.StatusOK, `[{}]`, "hello", EmptyReply},
		{"ok", http.StatusOK, `[{"generated_text":"fine thanks"}]`, "hello", "fine thanks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			svc := NewService(NewInferenceClient(srv.URL, "k", srv.Client()), time.Second, nil)
			assert.Equal(t, tc.want, svc.Generate(context.Background(), []models.Message{userMsg(tc.input)}))
		})
	}
}

func TestInferenceClientTimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	svc := NewService(NewInferenceClient(srv.URL, "k", srv.Client()), 50*time.Millisecond, nil)
	assert.Equal(t, UnavailableReply, svc.Generate(context.Background(), []models.Message{userMsg("hello")}))
}

type fakeChatModel struct {
	reply   string
	err     error
	options *model.Options
	input   []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	f.options = model.GetCommonOptions(nil, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatModelCompleter(t *testing.T) {
	fake := &fakeChatModel{reply: "from the model"}
	svc := NewService(NewChatModelCompleterWith(fake), time.Second, nil)
	reply := svc.Generate(context.Background(), []models.Message{userMsg("hi")})
	assert.Equal(t, "from the model", reply)
	require.Len(t, fake.input, 1)
	assert.Equal(t, schema.User, fake.input[0].Role)
	assert.True(t, strings.HasPrefix(fake.input[0].Content, "Previous conversation:\n"))
	require.NotNil(t, fake.options.MaxTokens)
	assert.Equal(t, 500, *fake.options.MaxTokens)
	require.NotNil(t, fake.options.Temperature)
	assert.InDelta(t, 0.7, *fake.options.Temperature, 1e-6)

	fake.err = errors.New("quota")
	assert.Equal(t, IdentityReply, svc.Generate(context.Background(), []models.Message{userMsg("who are you")}))
}

func TestNewServiceFromConfig(t *testing.T) {
	cfg := &config.Config{Inference: config.InferenceConfig{URL: "http://127.0.0.1:1", APIKey: "k"}}
	svc, err := NewServiceFromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, ok := svc.completer.(*InferenceClient)
	assert.True(t, ok)

	cfg.Inference.Provider = "mystery"
	_, err = NewServiceFromConfig(context.Background(), cfg, nil)
	assert.Error(t, err)
}
