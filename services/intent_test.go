package services

import (
	"math"
	"testing"
)

func TestDetectIntent(t *testing.T) {
	d := NewIntentDetector()

	tests := []struct {
		query string
		want  string
	}{
		{"how to create purchase order", IntentCreate},
		{"find my last invoice", IntentFind},
		{"what is a grn", IntentExplain},
		{"configure email notifications", IntentConfigure},
		{"payment failed with error 402", IntentTroubleshoot},
		{"list all vendors", IntentList},
		{"blue widgets", IntentUnknown},
	}
	for _, tt := range tests {
		if got := d.Detect(tt.query); got.Intent != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.query, got.Intent, tt.want)
		}
	}
}

func TestExtractSubject(t *testing.T) {
	d := NewIntentDetector()

	got := d.Detect("how to create a purchase order?")
	if got.Subject != "create purchase order" {
		t.Errorf("subject = %q", got.Subject)
	}
}

func TestContextScore(t *testing.T) {
	d := NewIntentDetector()

	rightChunk := "To create a new purchase order, click Add and follow the steps to fill the form. Creating an order requires a vendor."
	wrongChunk := "Check the delivery against the purchase order mentioned in the GRN received from the vendor. The existing order stays unchanged."
	neutral := "Purchase orders are documents."

	if got := d.ContextScore(IntentCreate, rightChunk); math.Abs(got-strongRightContext) > 1e-9 {
		t.Errorf("right-context score = %v, want %v", got, strongRightContext)
	}
	if got := d.ContextScore(IntentCreate, wrongChunk); math.Abs(got-strongWrongContext) > 1e-9 {
		t.Errorf("wrong-context score = %v, want %v", got, strongWrongContext)
	}
	if got := d.ContextScore(IntentCreate, neutral); got != 0 {
		t.Errorf("neutral score = %v, want 0", got)
	}
	if got := d.ContextScore(IntentFind, rightChunk); got != 0 {
		t.Errorf("non-create intent must not be modified, got %v", got)
	}
}
