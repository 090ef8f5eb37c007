package completion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/greenroom-ai/greenroom/internal/compose"
	"github.com/greenroom-ai/greenroom/internal/dispatch"
)

func chatBackend(t *testing.T, reply string, got *map[string]any, headers *http.Header) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if headers != nil {
			*headers = r.Header.Clone()
		}
		if got != nil {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"`+reply+`"}}]}`)
	}))
}

func TestChatClient_RequestShape(t *testing.T) {
	var got map[string]any
	var headers http.Header
	srv := chatBackend(t, "a fine reply", &got, &headers)
	defer srv.Close()

	c := NewChatClient(srv.URL, "sk-test", nil)
	res, err := c.ProcessRequest(context.Background(), dispatch.Payload{
		RequestID:   "rid-1",
		Model:       "m1",
		Messages:    []compose.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "ask"}},
		MaxTokens:   120,
		Temperature: 0.7,
		Stop:        []string{"STOP"},
	}, dispatch.Options{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Content != "a fine reply" {
		t.Errorf("content = %q", res.Content)
	}

	if got["model"] != "m1" {
		t.Errorf("model = %v", got["model"])
	}
	if got["stream"] != false {
		t.Errorf("stream = %v, want false", got["stream"])
	}
	if n, _ := got["max_tokens"].(float64); n != 120 {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %v", got["messages"])
	}
	if auth := headers.Get("Authorization"); auth != "Bearer sk-test" {
		t.Errorf("authorization = %q", auth)
	}
}

func TestChatClient_APIURLOverride(t *testing.T) {
	srv := chatBackend(t, "from override", nil, nil)
	defer srv.Close()

	// The configured base URL points nowhere; the payload override wins.
	c := NewChatClient("http://127.0.0.1:1", "", nil)
	res, err := c.ProcessRequest(context.Background(), dispatch.Payload{
		APIURL:   srv.URL,
		Messages: []compose.Message{{Role: "user", Content: "ask"}},
	}, dispatch.Options{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Content != "from override" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestChatClient_BackendErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "", nil)
	_, err := c.ProcessRequest(context.Background(), dispatch.Payload{}, dispatch.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error = %v", err)
	}
}

func TestTextClient_BothStopKeysSent(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"text":"completed text"}]}`)
	}))
	defer srv.Close()

	c := NewTextClient(srv.URL, "", nil)
	res, err := c.ProcessRequest(context.Background(), dispatch.Payload{
		Prompt:          "a wrapped prompt",
		Stop:            []string{"</s>"},
		StoppingStrings: []string{"</s>"},
	}, dispatch.Options{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Content != "completed text" {
		t.Errorf("content = %q", res.Content)
	}
	if got["prompt"] != "a wrapped prompt" {
		t.Errorf("prompt = %v", got["prompt"])
	}
	if _, ok := got["stop"]; !ok {
		t.Error("stop key missing")
	}
	if _, ok := got["stopping_strings"]; !ok {
		t.Error("stopping_strings key missing")
	}
}

func TestTextClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewTextClient(srv.URL, "", nil)
	if _, err := c.ProcessRequest(context.Background(), dispatch.Payload{Prompt: "p"}, dispatch.Options{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
