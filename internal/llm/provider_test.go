package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestNew_TalksToCompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "Zusammenfassung"}}},
		})
	}))
	defer srv.Close()

	var c Client = New(srv.URL+"/v1/", "secret", srv.Client())
	resp, err := c.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "test",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hallo"}},
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Zusammenfassung" {
		t.Fatalf("unexpected response %+v", resp)
	}
}
