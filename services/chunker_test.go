package services

import (
	"strings"
	"testing"
)

func TestDetectContentType(t *testing.T) {
	c := NewContentAwareChunker(2000)

	tests := []struct {
		name string
		text string
		hint string
		want string
	}{
		{
			name: "faq markers",
			text: "Q: What is the refund window?\nA: 30 days.\nQ: How do I apply?\nA: Use the portal.",
			want: ContentTypeFAQ,
		},
		{
			name: "code heavy",
			text: "```go\nfunc main() {\n\treturn\n}\n```\ndef handler(req):\n    return req\nclass Widget {\n}\nimport os\nreturn value;\nfunction run() {\n}",
			want: ContentTypeCode,
		},
		{
			name: "tabular pipes",
			text: "Name | Price | Stock\nWidget | 10 | 5\nGadget | 20 | 0\nBolt | 1 | 99",
			want: ContentTypeTabular,
		},
		{
			name: "documentation",
			text: "# Guide\n\n## Install\n\n- step one\n- step two\n- step three\n\n## Configure\n\n- set the key\n- set the url\n- restart\n\n## Usage\n\nRun it.",
			want: ContentTypeDocumentation,
		},
		{
			name: "plain short text",
			text: "Hello there. This is short.",
			want: ContentTypeGeneral,
		},
		{
			name: "hint wins",
			text: "Hello there.",
			hint: "report.csv",
			want: ContentTypeTabular,
		},
		{
			name: "code hint",
			text: "anything",
			hint: "main.py",
			want: ContentTypeCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.DetectContentType(tt.text, tt.hint)
			if got != tt.want {
				t.Errorf("DetectContentType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkEmptyText(t *testing.T) {
	c := NewContentAwareChunker(2000)

	chunks := c.Chunk("", "")
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty text, got %d", len(chunks))
	}
	chunks = c.Chunk("   \n\n  ", "")
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for whitespace text, got %d", len(chunks))
	}
}

func TestChunkFAQPairs(t *testing.T) {
	c := NewContentAwareChunker(2000)

	text := "Q: What is the refund window?\nA: You have 30 days from delivery.\nQ: Who pays shipping?\nA: We do, for defects."
	chunks := c.Chunk(text, "")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 Q/A chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.ChunkType != "faq" {
			t.Errorf("chunk %d type = %q, want faq", chunk.Index, chunk.ChunkType)
		}
		if !strings.HasPrefix(chunk.Content, "Q: ") {
			t.Errorf("chunk %d missing question prefix: %q", chunk.Index, chunk.Content)
		}
	}
	if !strings.Contains(chunks[0].Content, "30 days") {
		t.Errorf("first pair lost its answer: %q", chunks[0].Content)
	}
}

func TestChunkIndicesSequential(t *testing.T) {
	c := NewContentAwareChunker(2000)

	text := strings.Repeat("This is a sentence about widgets and their many uses. ", 80)
	chunks := c.Chunk(text, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Content == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestChunkNothingLost(t *testing.T) {
	c := NewContentAwareChunker(2000)

	text := "alpha bravo charlie. delta echo foxtrot. golf hotel india. " +
		strings.Repeat("juliett kilo lima mike november oscar papa. ", 40) +
		"quebec romeo sierra."
	chunks := c.Chunk(text, "")

	joined := ""
	for _, chunk := range chunks {
		joined += " " + chunk.Content
	}
	for _, word := range strings.Fields(text) {
		if !strings.Contains(joined, strings.Trim(word, ".")) {
			t.Errorf("word %q missing from chunk output", word)
		}
	}
}

func TestChunkHierarchical(t *testing.T) {
	c := NewContentAwareChunker(2000)

	text := strings.Repeat("The onboarding flow has several screens that collect profile data. ", 40)
	chunks := c.ChunkHierarchical(text, "")

	var parents, children int
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Metadata.ParentIndex != nil {
			children++
		} else {
			parents++
		}
	}
	if parents == 0 {
		t.Error("expected at least one parent chunk")
	}
	if children == 0 {
		t.Error("expected child chunks for long parents")
	}
}

func TestClassifyChunkTypes(t *testing.T) {
	c := NewContentAwareChunker(2000)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"numbered steps", "1. Open the app\n2. Tap settings\n3. Enable sync", "instructions"},
		{"markdown heading", "## Billing Overview\nDetails follow.", "heading"},
		{"qa pair", "Q: When?\nA: Now.", "faq"},
		{"pipe table", "a | b | c\nd | e | f", "table"},
		{"fenced code", "```\nx := 1\n```", "code"},
		{"bullet list", "- first\n- second\n- third", "list"},
		{"plain", "Just a normal paragraph of prose.", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.classify(tt.content); got != tt.want {
				t.Errorf("classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapChunkType(t *testing.T) {
	if got := mapChunkType("instructions"); got != "text" {
		t.Errorf("instructions should map to text, got %q", got)
	}
	if got := mapChunkType("list"); got != "text" {
		t.Errorf("list should map to text, got %q", got)
	}
	if got := mapChunkType("table"); got != "table" {
		t.Errorf("table should stay table, got %q", got)
	}
}
