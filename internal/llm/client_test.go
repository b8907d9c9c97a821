package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lexpilot/seatwise/config"
)

func testClient(baseURL string) *OpenAIClient {
	return NewOpenAIClient(config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
}

func TestCompleteSendsChatRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "hello"}}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	out, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Temperature: 0.2, JSONObject: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q", out)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("path %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth %q", gotAuth)
	}
	rf, ok := gotBody["response_format"].(map[string]interface{})
	if !ok || rf["type"] != "json_object" {
		t.Fatalf("response_format not requested: %v", gotBody["response_format"])
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Fatalf("model %v", gotBody["model"])
	}
}

func TestCompleteOmitsResponseFormatInPlainMode(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Complete(context.Background(), nil, Options{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := gotBody["response_format"]; ok {
		t.Fatalf("response_format must be omitted in plain mode")
	}
}

func TestCompleteErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Complete(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("expected error on 429")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Complete(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("expected error on empty choices")
	}
}

func TestAvailability(t *testing.T) {
	if testClient("http://unused").Available() != true {
		t.Fatalf("expected available with key")
	}
	c := NewOpenAIClient(config.LLMConfig{})
	if c.Available() {
		t.Fatalf("expected unavailable without key")
	}
	if _, err := c.Complete(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("Complete without key must fail")
	}
}

func TestCompleteWithTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	start := time.Now()
	_, err := CompleteWithTimeout(context.Background(), testClient(srv.URL), nil, Options{}, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not applied")
	}
}
