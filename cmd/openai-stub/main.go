package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

var referenceRe = regexp.MustCompile(`\b(?:VR|HRB|HRA) \d+`)

// summaryFor returns a deterministic German summary that echoes the register
// reference found in the prompt, so end-to-end runs can assert on it.
func summaryFor(user string) string {
	ref := referenceRe.FindString(user)
	if ref == "" {
		ref = "ohne Registernummer"
	}
	return "Der Auszug betrifft den Registereintrag " + ref + ".\n\n" +
		"Der Vorstand vertritt den Verein gerichtlich und außergerichtlich.\n\n" +
		"Die Satzung wurde zuletzt geändert; weitere Beschlüsse sind nicht vermerkt."
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) < 2 {
			http.Error(w, "expected system and user messages", http.StatusBadRequest)
			return
		}
		sys := strings.TrimSpace(req.Messages[0].Content)
		if !strings.Contains(sys, "Registerauszüge") {
			http.Error(w, "unexpected system", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": summaryFor(req.Messages[1].Content)}},
			},
		})
	})

	log.Printf("openai-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
