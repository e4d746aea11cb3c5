package services

import "testing"

func TestIsStandalone(t *testing.T) {
	qr := NewQueryRewriter(nil, "")

	tests := []struct {
		query string
		want  bool
	}{
		{"how to create a purchase order", true},
		{"How much is it?", false},     // pronoun
		{"what about shipping", false}, // continuation
		{"the same for electronics", false},
		{"tell me more about the previous option", false},
		{"refund policy", false},  // too short, no opener
		{"what is tax", true},     // short but opener
		{"define churn", true},    // short but opener
		{"How much does the premium plan cost per month", true},
	}
	for _, tt := range tests {
		if got := qr.IsStandalone(tt.query); got != tt.want {
			t.Errorf("IsStandalone(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestRewriteWithoutModelFallsBack(t *testing.T) {
	qr := NewQueryRewriter(nil, "")

	got := qr.Rewrite(t.Context(), "how much is it?", nil)
	if got != "how much is it?" {
		t.Errorf("Rewrite without history = %q", got)
	}
}

func TestRuleBasedEnhancer(t *testing.T) {
	re := NewRuleBasedQueryEnhancer()

	if got := re.Enhance("office hrs pls"); got != "office hours please" {
		t.Errorf("Enhance = %q", got)
	}
	if got := re.Enhance("price"); got != "what is the price" {
		t.Errorf("single-word completion = %q", got)
	}
	if got := re.Enhance("refund?"); got != "what is the refund policy" {
		t.Errorf("single-word completion with punctuation = %q", got)
	}
	if got := re.Enhance("how to pay"); got != "how to pay" {
		t.Errorf("normal query must pass through, got %q", got)
	}
}
