package services

import (
	"context"
	"fmt"
	"strings"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
)

var pronounWords = map[string]bool{
	"it": true, "this": true, "that": true, "they": true, "them": true,
	"these": true, "those": true, "he": true, "she": true, "his": true, "her": true,
}

var referencePhrases = []string{
	"the same", "the other", "another", "above", "previous", "mentioned", "earlier",
}

var continuationPhrases = []string{
	"what about", "how about", "and the", "also", "more about",
}

var standaloneOpeners = []string{
	"what is", "who is", "where is", "define",
}

// QueryRewriter turns context-dependent follow-up queries into standalone
// ones using recent conversation history.
type QueryRewriter struct {
	gemini *ai.GeminiClient
	model  string
}

func NewQueryRewriter(gemini *ai.GeminiClient, model string) *QueryRewriter {
	return &QueryRewriter{gemini: gemini, model: model}
}

// IsStandalone reports whether the query can be answered without history.
func (qr *QueryRewriter) IsStandalone(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.TrimRight(q, "?!.")
	if q == "" {
		return true
	}

	for _, phrase := range continuationPhrases {
		if strings.HasPrefix(q, phrase) {
			return false
		}
	}
	for _, phrase := range referencePhrases {
		if strings.Contains(q, phrase) {
			return false
		}
	}
	for _, word := range strings.Fields(q) {
		if pronounWords[word] {
			return false
		}
	}

	if len(strings.Fields(q)) <= 2 {
		for _, opener := range standaloneOpeners {
			if strings.HasPrefix(q, opener) {
				return true
			}
		}
		return false
	}
	return true
}

// Rewrite produces a standalone query from history. It returns the original
// query whenever the model is unavailable, the query already stands alone,
// or the rewrite looks degenerate.
func (qr *QueryRewriter) Rewrite(ctx context.Context, query string, history []models.ConversationTurn) string {
	if qr.gemini == nil || len(history) == 0 || qr.IsStandalone(query) {
		return query
	}

	// last three turns, each bounded
	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	var contextBuilder strings.Builder
	for _, turn := range history[start:] {
		content := turn.Content
		if len(content) > 500 {
			content = content[:500]
		}
		contextBuilder.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, content))
	}

	prompt := fmt.Sprintf(`Given this conversation:
%s
Rewrite the user's next question as a single standalone question that needs no conversation context. Respond with only the rewritten question.

Question: %s`, contextBuilder.String(), query)

	rewritten, err := qr.gemini.GenerateText(ctx, qr.model, prompt, 0.1, 256)
	if err != nil {
		logger.Warn("Query rewrite failed", "error", err)
		return query
	}

	rewritten = strings.TrimSpace(strings.Trim(strings.TrimSpace(rewritten), `"`))
	if rewritten == "" || len(rewritten) > 3*len(query) {
		return query
	}
	return rewritten
}

// queryAbbreviations expands informal shorthand before search.
var queryAbbreviations = map[string]string{
	"hrs":    "hours",
	"appt":   "appointment",
	"info":   "information",
	"docs":   "documents",
	"doc":    "document",
	"qty":    "quantity",
	"approx": "approximately",
	"pls":    "please",
	"plz":    "please",
	"acct":   "account",
	"pwd":    "password",
	"msg":    "message",
	"num":    "number",
}

// singleWordCompletions turns a bare noun into a useful question.
var singleWordCompletions = map[string]string{
	"price":    "what is the price",
	"cost":     "what is the cost",
	"fee":      "what is the fee",
	"hours":    "what are the hours",
	"location": "where is the location",
	"contact":  "what is the contact information",
	"refund":   "what is the refund policy",
	"shipping": "what is the shipping policy",
}

// RuleBasedQueryEnhancer cleans queries without any model call.
type RuleBasedQueryEnhancer struct{}

func NewRuleBasedQueryEnhancer() *RuleBasedQueryEnhancer {
	return &RuleBasedQueryEnhancer{}
}

// Enhance expands abbreviations and completes single-word queries.
func (re *RuleBasedQueryEnhancer) Enhance(query string) string {
	words := strings.Fields(query)
	for i, word := range words {
		key := strings.ToLower(strings.Trim(word, ".,?!"))
		if full, ok := queryAbbreviations[key]; ok {
			words[i] = full
		}
	}
	enhanced := strings.Join(words, " ")

	if len(words) == 1 {
		key := strings.ToLower(strings.Trim(words[0], ".,?!"))
		if completion, ok := singleWordCompletions[key]; ok {
			return completion
		}
	}
	return enhanced
}
