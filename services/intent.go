package services

import (
	"regexp"
	"strings"
)

// Query intents.
const (
	IntentCreate       = "create"
	IntentFind         = "find"
	IntentExplain      = "explain"
	IntentConfigure    = "configure"
	IntentTroubleshoot = "troubleshoot"
	IntentList         = "list"
	IntentUnknown      = "unknown"
)

// Context score modifiers applied to create-intent results.
const (
	strongWrongContext = -0.15
	weakWrongContext   = -0.10
	weakRightContext   = 0.10
	strongRightContext = 0.15
)

var intentPatterns = []struct {
	intent  string
	pattern *regexp.Regexp
}{
	{IntentCreate, regexp.MustCompile(`\b(?:create|make|generate|add|new|build|register|open)\b`)},
	{IntentTroubleshoot, regexp.MustCompile(`\b(?:error|fail(?:ed|ing|s)?|not working|broken|fix|issue|problem|crash)\b`)},
	{IntentConfigure, regexp.MustCompile(`\b(?:configure|setup|set up|settings?|enable|disable|install)\b`)},
	{IntentList, regexp.MustCompile(`\b(?:list|show all|all the|every|which)\b`)},
	{IntentFind, regexp.MustCompile(`\b(?:find|search|locate|where|look(?:ing)? for)\b`)},
	{IntentExplain, regexp.MustCompile(`\b(?:what is|what are|explain|describe|meaning|definition|why|how does)\b`)},
}

var rightContextKeywords = []string{
	"create", "creating", "make", "making", "generate", "how to create",
	"new", "add", "adding", "steps to", "procedure", "setup",
}

var wrongContextKeywords = []string{
	"against the", "from the", "mentioned in", "received", "grn",
	"existing", "based on the", "referring to", "linked to", "attached to",
}

var questionWords = map[string]bool{
	"what": true, "when": true, "where": true, "who": true, "why": true,
	"how": true, "is": true, "are": true, "do": true, "does": true, "can": true,
	"the": true, "a": true, "an": true, "to": true, "i": true, "of": true,
	"for": true, "in": true, "on": true, "my": true,
}

// DetectedIntent is the classification result.
type DetectedIntent struct {
	Intent  string `json:"intent"`
	Subject string `json:"subject,omitempty"`
}

// IntentDetector classifies queries and scores chunk context fit.
type IntentDetector struct{}

func NewIntentDetector() *IntentDetector {
	return &IntentDetector{}
}

// Detect classifies the query by the first matching pattern, in priority
// order, and extracts the subject words.
func (d *IntentDetector) Detect(query string) DetectedIntent {
	q := strings.ToLower(strings.TrimSpace(query))
	result := DetectedIntent{Intent: IntentUnknown}

	for _, p := range intentPatterns {
		if p.pattern.MatchString(q) {
			result.Intent = p.intent
			break
		}
	}
	result.Subject = extractSubject(q)
	return result
}

func extractSubject(query string) string {
	var subject []string
	for _, word := range strings.Fields(query) {
		word = strings.Trim(word, "?!.,")
		if word == "" || questionWords[word] {
			continue
		}
		subject = append(subject, word)
	}
	return strings.Join(subject, " ")
}

// ContextScore returns the modifier added to a chunk's dense score for
// create-intent queries. A chunk that teaches creating something gets a
// boost; a chunk that merely references an existing entity gets demoted.
func (d *IntentDetector) ContextScore(intent string, chunkContent string) float64 {
	if intent != IntentCreate {
		return 0
	}
	content := strings.ToLower(chunkContent)

	right := 0
	for _, kw := range rightContextKeywords {
		right += strings.Count(content, kw)
	}
	wrong := 0
	for _, kw := range wrongContextKeywords {
		wrong += strings.Count(content, kw)
	}

	switch {
	case wrong >= 2 && wrong > right:
		return strongWrongContext
	case right >= 2 && right > wrong:
		return strongRightContext
	case wrong > right:
		return weakWrongContext
	case right > wrong:
		return weakRightContext
	default:
		return 0
	}
}
