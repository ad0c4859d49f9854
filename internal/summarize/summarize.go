// Package summarize turns normalized registry text into a German summary
// block, structured facts and a completeness score.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/regdoc/internal/budget"
	"github.com/hyperifyio/regdoc/internal/cache"
	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/llm"
)

// MinTextChars is the shortest input worth summarizing.
const MinTextChars = 50

const (
	MethodModel    = "model"
	MethodFallback = "fallback"
)

var (
	ErrTooShort = errors.New("text too short for summarization")
	// ErrNoSubstantiveBody indicates the model produced no usable text.
	ErrNoSubstantiveBody = errors.New("no substantive body")
)

// Summary is what the summarizer returns for one document.
type Summary struct {
	Formatted string        `json:"formatted_summary"`
	Facts     Facts         `json:"extracted_info"`
	Sections  []string      `json:"sections"`
	Quality   int           `json:"quality_score"`
	WordCount int           `json:"word_count"`
	Method    string        `json:"method"`
	Duration  time.Duration `json:"processing_time"`
}

// Summarizer summarizes with an OpenAI-compatible model when Client and
// Model are set and falls back to keyword sentences otherwise, or when the
// model call fails.
type Summarizer struct {
	Client llm.Client
	Model  string
	Cache  *cache.LLMCache
	// CacheOnly answers from the cache and never calls the model.
	CacheOnly bool
	// ReservedOutputTokens is kept free in the context window for the answer.
	ReservedOutputTokens int
	Logger               *zerolog.Logger
}

func (s *Summarizer) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &log.Logger
}

// Summarize builds the summary for normalized text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (Summary, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinTextChars {
		return Summary{}, failure.Summarization("the document contains too little text to summarize", ErrTooShort)
	}
	facts := ExtractFacts(text)

	sections, method := []string(nil), MethodFallback
	if s.Client != nil && strings.TrimSpace(s.Model) != "" {
		body, err := s.complete(ctx, text)
		if err == nil {
			sections, method = paragraphs(body), MethodModel
		} else {
			if ctx.Err() != nil {
				return Summary{}, failure.Summarization("summarization cancelled", ctx.Err())
			}
			s.logger().Warn().Err(err).Str("model", s.Model).Msg("model summary failed; using extractive fallback")
		}
	}
	if method == MethodFallback {
		sections = KeySentences(text)
	}

	formatted := Format(facts, sections)
	out := Summary{
		Formatted: formatted,
		Facts:     facts,
		Sections:  sections,
		Quality:   Score(formatted, facts),
		WordCount: len(strings.Fields(formatted)),
		Method:    method,
		Duration:  time.Since(start),
	}
	s.logger().Info().Str("method", method).Int("words", out.WordCount).Int("quality", out.Quality).Msg("summary generated")
	return out, nil
}

const systemPrompt = "Du bist ein sorgfältiger Assistent für deutsche Registerauszüge. Verwende ausschließlich Informationen aus dem bereitgestellten Dokument und erfinde nichts."

func userPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Erstelle eine professionelle Zusammenfassung dieses deutschen Dokuments:\n\n")
	sb.WriteString(text)
	sb.WriteString("\n\nStrukturiere die wichtigsten Informationen:")
	sb.WriteString("\n- Hauptinhalt und Zweck des Dokuments")
	sb.WriteString("\n- Beteiligte Personen und Organisationen")
	sb.WriteString("\n- Wichtige Daten und Fristen")
	sb.WriteString("\n- Änderungen oder Beschlüsse")
	sb.WriteString("\n- Rechtliche Relevanz")
	sb.WriteString("\n\nVerwende einen sachlichen, professionellen Stil. Trenne Abschnitte durch Leerzeilen und gib nur die Zusammenfassung aus.")
	return sb.String()
}

func (s *Summarizer) complete(ctx context.Context, text string) (string, error) {
	reserved := s.ReservedOutputTokens
	if reserved <= 0 {
		reserved = 1024
	}
	fixed := budget.EstimatePromptTokens(systemPrompt, userPrompt(""))
	room := budget.RemainingContext(s.Model, reserved, fixed)
	clipped, cut := budget.ClipToTokens(text, room)
	if cut {
		s.logger().Debug().Int("budget_tokens", room).Msg("document clipped to fit model context")
	}
	if strings.TrimSpace(clipped) == "" {
		return "", fmt.Errorf("model context too small for %s", s.Model)
	}
	user := userPrompt(clipped)
	key := cache.KeyFrom(s.Model, systemPrompt+"\n\n"+user)

	if s.Cache != nil {
		if raw, ok, _ := s.Cache.Get(ctx, key); ok {
			var out struct {
				Summary string `json:"summary"`
			}
			if err := json.Unmarshal(raw, &out); err == nil && strings.TrimSpace(out.Summary) != "" {
				return out.Summary, nil
			}
		}
	}
	if s.CacheOnly {
		return "", ErrNoSubstantiveBody
	}

	req := openai.ChatCompletionRequest{
		Model: s.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   reserved,
		N:           1,
	}
	resp, err := s.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		// one short retry for transient endpoint errors
		sleep(ctx, 100*time.Millisecond)
		resp, err = s.Client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("summary call (after retry): %w", err)
		}
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoSubstantiveBody
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrNoSubstantiveBody
	}
	if s.Cache != nil {
		payload, _ := json.Marshal(map[string]string{"summary": out})
		if err := s.Cache.Save(ctx, key, payload); err != nil {
			s.logger().Debug().Err(err).Msg("summary cache write failed")
		}
	}
	return out, nil
}

// sleepFunc lets tests replace the retry pause.
var sleepFunc = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func sleep(ctx context.Context, d time.Duration) { sleepFunc(ctx, d) }

func paragraphs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var sentenceKeywords = []string{"Verein", "GmbH", "AG", "Vorstand", "Geschäftsführer", "Eintragung", "Änderung"}

const maxKeySentences = 5

// KeySentences picks up to five sentences that mention registry keywords.
func KeySentences(text string) []string {
	var out []string
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.Join(strings.Fields(sentence), " ")
		if utf8.RuneCountInString(sentence) <= 20 {
			continue
		}
		for _, kw := range sentenceKeywords {
			if strings.Contains(sentence, kw) {
				out = append(out, sentence)
				break
			}
		}
		if len(out) == maxKeySentences {
			break
		}
	}
	return out
}
