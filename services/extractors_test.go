package services

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestExtractHTMLMainContent(t *testing.T) {
	e := NewExtractor(1000, false)

	html := `<html><head><script>evil()</script><style>.x{}</style></head>
<body><nav>menu menu menu</nav>
<main><h1>Refund Policy</h1><p>You have thirty days to request a refund after delivery of your order. Contact support with your order number to begin the process.</p></main>
<footer>copyright</footer></body></html>`

	out, err := e.ExtractHTML([]byte(html))
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if !strings.Contains(out.Text, "thirty days") {
		t.Errorf("main content missing: %q", out.Text)
	}
	if strings.Contains(out.Text, "menu menu") || strings.Contains(out.Text, "copyright") {
		t.Errorf("chrome elements leaked into content: %q", out.Text)
	}
}

func TestExtractCSV(t *testing.T) {
	e := NewExtractor(1000, false)

	out, err := e.ExtractCSV([]byte("Item,Q1,Q2\nSalaries,100,110\nRent,40,45\n"))
	if err != nil {
		t.Fatalf("ExtractCSV: %v", err)
	}
	if !out.HasTables || len(out.TableTexts) != 1 {
		t.Errorf("expected one table, got %+v", out.TableTexts)
	}
	if !strings.Contains(out.Text, "Salaries | 100 | 110") {
		t.Errorf("rows not normalized to pipes: %q", out.Text)
	}

	table, ok := parseDelimitedTable(out.TableTexts[0].Text)
	if !ok {
		t.Fatal("normalized CSV should parse as a table")
	}
	if table.Rows[0].RowHeader != "Salaries" {
		t.Errorf("row header = %q", table.Rows[0].RowHeader)
	}
}

func TestExtractPlainEmpty(t *testing.T) {
	e := NewExtractor(1000, false)
	if _, err := e.ExtractPlain([]byte("   \n ")); err == nil {
		t.Error("expected error for empty document")
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	e := NewExtractor(1000, false)

	doc := buildDOCX(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Shipping takes</w:t></w:r><w:r><w:t xml:space="preserve"> five days.</w:t></w:r></w:p>
<w:p><w:r><w:t>Returns need a receipt.</w:t></w:r></w:p>
</w:body></w:document>`)

	out, err := e.ExtractDOCX(doc)
	if err != nil {
		t.Fatalf("ExtractDOCX: %v", err)
	}
	if out.Method != "docx" {
		t.Errorf("method = %q, want docx", out.Method)
	}
	if !strings.Contains(out.Text, "Shipping takes five days.") {
		t.Errorf("runs within a paragraph not joined: %q", out.Text)
	}
	if !strings.Contains(out.Text, "Returns need a receipt.") {
		t.Errorf("second paragraph missing: %q", out.Text)
	}
}

func TestExtractDOCXEmpty(t *testing.T) {
	e := NewExtractor(1000, false)
	doc := buildDOCX(t, `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body></w:body></w:document>`)
	if _, err := e.ExtractDOCX(doc); err == nil {
		t.Error("expected error for docx with no text")
	}
}

func TestImageFilePage(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"img-003-001.png", 3},
		{"img-012-000.png", 12},
		{"img.png", 0},
		{"whatever.txt", 0},
	}
	for _, tc := range cases {
		if got := imageFilePage(tc.name); got != tc.want {
			t.Errorf("imageFilePage(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestExtractDispatch(t *testing.T) {
	e := NewExtractor(1000, false)

	out, err := e.Extract(t.Context(), []byte("plain words here"), "notes.txt", "text/plain")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.Method != "plain" {
		t.Errorf("method = %q, want plain", out.Method)
	}
}
