package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botnerd/internal/config"
)

func testConfig(apiKey, baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = apiKey
	cfg.LLM.BaseURL = baseURL
	return cfg
}

func TestOpenAIComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected test-key authorization")
		}

		var body openAIRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-4o-mini" {
			t.Errorf("Expected default model, got %s", body.Model)
		}
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
			t.Errorf("Expected single user message, got %+v", body.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "  Hello, world!  "}}]
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))

	resp, err := client.Complete(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp != "Hello, world!" {
		t.Errorf("Expected trimmed 'Hello, world!', got %q", resp)
	}
}

func TestOpenAICompleteWithSystem_SendsSystemMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openAIRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(body.Messages))
		}
		if body.Messages[0].Role != "system" || body.Messages[0].Content != "be brief" {
			t.Errorf("Expected system message first, got %+v", body.Messages[0])
		}
		if body.Messages[1].Role != "user" {
			t.Errorf("Expected user message second, got %+v", body.Messages[1])
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))

	if _, err := client.CompleteWithSystem(context.Background(), "be brief", "hi"); err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
}

func TestOpenAIComplete_RetryOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "recovered"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))
	client.retryBackoff = time.Millisecond

	resp, err := client.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", attempts)
	}
	if resp != "recovered" {
		t.Errorf("Unexpected response: %s", resp)
	}
}

func TestOpenAIComplete_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))
	client.retryBackoff = time.Millisecond

	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("Unexpected error: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (initial + 3 retries), got %d", attempts)
	}
}

func TestOpenAIComplete_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`upstream exploded`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))

	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Expected status in error, got: %v", err)
	}
}

func TestOpenAIComplete_NoAPIKey(t *testing.T) {
	client := NewOpenAIClient(testConfig("", "http://localhost:1"))

	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected error without API key")
	}
	if !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestOpenAIComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))

	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected error for empty choices")
	}
	if !strings.Contains(err.Error(), "no completion returned") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestOpenAIPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("Expected /models, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected test-key authorization")
		}
		w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("test-key", server.URL))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestOpenAIPing_BadKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig("wrong-key", server.URL))
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("Expected ping to fail on 401")
	}
}

func TestOpenAIName(t *testing.T) {
	cfg := testConfig("k", "http://localhost:1")
	cfg.LLM.Model = "gpt-4.1"

	client := NewOpenAIClient(cfg)
	if client.Name() != "openai:gpt-4.1" {
		t.Errorf("Unexpected name: %s", client.Name())
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := testConfig("test-key", "http://localhost:1")
	cfg.LLM.Provider = "openai"

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := client.(*OpenAIClient); !ok {
		t.Errorf("Expected *OpenAIClient, got %T", client)
	}

	cfg.LLM.Provider = "carrier-pigeon"
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNewGeminiRequiresAPIKey(t *testing.T) {
	cfg := testConfig("", "")
	cfg.LLM.Provider = "gemini"

	if _, err := New(cfg); err == nil {
		t.Error("Expected error without API key")
	}
}
