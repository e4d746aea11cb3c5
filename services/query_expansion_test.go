package services

import (
	"strings"
	"testing"
)

func TestNormalizeQuery(t *testing.T) {
	qe := NewQueryExpander()

	if got := qe.Normalize("  What is  the FEE?! "); got != "what is the fee" {
		t.Errorf("Normalize = %q", got)
	}
	if got := qe.Normalize(""); got != "" {
		t.Errorf("Normalize empty = %q", got)
	}
}

func TestExpandQueryOriginalFirst(t *testing.T) {
	qe := NewQueryExpander()

	variations := qe.ExpandQuery("What is the admission fee?")
	if len(variations) == 0 || variations[0] != "What is the admission fee?" {
		t.Fatalf("original must come first, got %v", variations)
	}
	if len(variations) < 2 || variations[1] != "what is the admission fee" {
		t.Errorf("normalized must come second, got %v", variations)
	}
	if len(variations) > maxQueryVariations {
		t.Errorf("got %d variations, cap is %d", len(variations), maxQueryVariations)
	}

	// a fee synonym variant should be present
	foundSynonym := false
	for _, v := range variations[2:] {
		if strings.Contains(v, "cost") || strings.Contains(v, "price") {
			foundSynonym = true
		}
	}
	if !foundSynonym {
		t.Errorf("expected a synonym variation, got %v", variations)
	}
}

func TestExpandQueryRomanUrdu(t *testing.T) {
	qe := NewQueryExpander()

	variations := qe.ExpandQuery("admission fee kya hai")
	found := false
	for _, v := range variations {
		if strings.Contains(v, "what is") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Roman-Urdu translation, got %v", variations)
	}
}

func TestVariationValidation(t *testing.T) {
	qe := NewQueryExpander()

	if qe.validVariation("fee", "orig", "norm") {
		t.Error("single word must be rejected")
	}
	if qe.validVariation("the the fee", "orig", "norm") {
		t.Error("consecutive duplicates must be rejected")
	}
	if qe.validVariation("same text", "same text", "x") {
		t.Error("variant equal to original must be rejected")
	}
	if !qe.validVariation("admission cost", "orig", "norm") {
		t.Error("valid two-word variant rejected")
	}
}

func TestGetSearchTerms(t *testing.T) {
	qe := NewQueryExpander()

	terms := qe.GetSearchTerms("What is the refund fee?")
	set := map[string]bool{}
	for _, term := range terms {
		if set[term] {
			t.Errorf("duplicate term %q", term)
		}
		set[term] = true
	}

	if set["what"] || set["the"] {
		t.Errorf("stopwords leaked: %v", terms)
	}
	if !set["refund"] || !set["fee"] {
		t.Errorf("content words missing: %v", terms)
	}
	// synonyms of fee
	if !set["cost"] || !set["price"] {
		t.Errorf("expected top-2 synonyms of fee: %v", terms)
	}
	// third synonym is cut
	if set["charges"] {
		t.Errorf("only top-2 synonyms allowed: %v", terms)
	}
}
