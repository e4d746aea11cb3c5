package services

import (
	"strings"
)

// maxQueryVariations bounds ExpandQuery output, original included.
const maxQueryVariations = 5

// romanUrduPhrases maps common Roman-Urdu query phrasing to English.
// Longer phrases are applied before shorter ones.
var romanUrduPhrases = []struct{ from, to string }{
	{"kya hai", "what is"},
	{"kaise karen", "how to"},
	{"kaise kare", "how to"},
	{"mujhe batao", "tell me"},
	{"kitna hai", "how much is"},
	{"kitni hai", "how much is"},
	{"kaise", "how"},
	{"kahan", "where"},
	{"kab", "when"},
	{"fees", "fee"},
	{"paisa", "cost"},
	{"paise", "cost"},
	{"waqt", "time"},
	{"madad", "help"},
	{"tareeqa", "method"},
	{"maloomat", "information"},
}

// synonymMap holds curated business/action synonyms; at most the first two
// are used per word.
var synonymMap = map[string][]string{
	"fee":      {"cost", "price", "charges"},
	"cost":     {"fee", "price", "expense"},
	"price":    {"cost", "fee", "rate"},
	"create":   {"make", "generate", "add"},
	"make":     {"create", "generate"},
	"delete":   {"remove", "erase"},
	"remove":   {"delete", "erase"},
	"order":    {"purchase", "buy"},
	"buy":      {"purchase", "order"},
	"purchase": {"buy", "order"},
	"process":  {"procedure", "steps", "method"},
	"method":   {"process", "procedure", "way"},
	"refund":   {"return", "reimbursement"},
	"cancel":   {"stop", "terminate"},
	"update":   {"change", "modify", "edit"},
	"change":   {"update", "modify"},
	"find":     {"search", "locate"},
	"search":   {"find", "lookup"},
	"help":     {"support", "assistance"},
	"error":    {"issue", "problem", "failure"},
	"problem":  {"issue", "error"},
	"setup":    {"install", "configure"},
	"install":  {"setup", "configure"},
	"document": {"file", "record"},
	"time":     {"duration", "period"},
	"start":    {"begin", "launch"},
	"stop":     {"end", "halt"},
}

var expansionStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "do": true, "does": true, "did": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"for": true, "with": true, "about": true, "and": true, "or": true, "but": true,
	"what": true, "when": true, "where": true, "who": true, "why": true, "how": true,
	"can": true, "could": true, "should": true, "would": true, "will": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "it": true,
	"this": true, "that": true, "there": true, "please": true,
}

// QueryExpander produces rule-based query variations and BM25 search terms.
// It is deterministic and never calls a model.
type QueryExpander struct{}

func NewQueryExpander() *QueryExpander {
	return &QueryExpander{}
}

// Normalize lowercases, strips trailing punctuation, and collapses spaces.
func (qe *QueryExpander) Normalize(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))
	s = strings.ReplaceAll(s, "?", "")
	s = strings.ReplaceAll(s, "!", "")
	return strings.Join(strings.Fields(s), " ")
}

// ExpandQuery returns the original query first, the normalized form if it
// differs, then validated variations, capped at maxQueryVariations.
func (qe *QueryExpander) ExpandQuery(query string) []string {
	out := []string{query}
	normalized := qe.Normalize(query)
	if normalized == "" {
		return out
	}
	if normalized != query {
		out = append(out, normalized)
	}

	seen := map[string]bool{query: true, normalized: true}
	for _, variation := range qe.variations(normalized) {
		if len(out) >= maxQueryVariations {
			break
		}
		if seen[variation] || !qe.validVariation(variation, query, normalized) {
			continue
		}
		seen[variation] = true
		out = append(out, variation)
	}
	return out
}

func (qe *QueryExpander) variations(normalized string) []string {
	var out []string

	// Roman-Urdu translation
	translated := normalized
	for _, p := range romanUrduPhrases {
		translated = strings.ReplaceAll(translated, p.from, p.to)
	}
	translated = strings.Join(strings.Fields(translated), " ")
	if translated != normalized {
		out = append(out, translated)
	}

	// single-word synonym swaps over the translated form
	words := strings.Fields(translated)
	for i, word := range words {
		syns, ok := synonymMap[word]
		if !ok {
			continue
		}
		for j, syn := range syns {
			if j >= 2 {
				break
			}
			swapped := make([]string, len(words))
			copy(swapped, words)
			swapped[i] = syn
			out = append(out, strings.Join(swapped, " "))
		}
	}
	return out
}

// validVariation rejects degenerate variants: too short, single word,
// consecutive duplicate words, or no change at all.
func (qe *QueryExpander) validVariation(variation, original, normalized string) bool {
	if len(variation) < 3 || variation == original || variation == normalized {
		return false
	}
	words := strings.Fields(variation)
	if len(words) < 2 {
		return false
	}
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			return false
		}
	}
	return true
}

// GetSearchTerms returns deduped non-stopword tokens plus up to two
// synonyms each. These feed BM25 scoring only, never extra vector
// searches.
func (qe *QueryExpander) GetSearchTerms(query string) []string {
	normalized := qe.Normalize(query)

	var terms []string
	seen := map[string]bool{}
	add := func(term string) {
		if len(term) > 2 && !expansionStopWords[term] && !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}

	for _, word := range strings.Fields(normalized) {
		word = strings.Trim(word, ".,;:'\"()")
		add(word)
		for j, syn := range synonymMap[word] {
			if j >= 2 {
				break
			}
			add(syn)
		}
	}
	return terms
}
