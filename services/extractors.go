package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"knowledge-retrieval-service/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// ExtractionOutput is what an extractor adapter hands the job processor.
type ExtractionOutput struct {
	Text           string
	Pages          int
	PageImages     []PageImage // rasterized pages, for vision table extraction
	EmbeddedImages []PageImage // figures embedded in the source, for the image index
	TableTexts     []PageTable // pre-extracted delimited tables
	HasTables      bool
	Language       string
	WordCount      int
	Method         string
}

// PageImage is an image tied to a source page, either a full-page render or
// an embedded figure.
type PageImage struct {
	PageNumber int
	Data       []byte
}

// PageTable is a delimited table found during extraction.
type PageTable struct {
	PageNumber int
	Text       string
}

// Extractor dispatches raw bytes to a per-format adapter.
type Extractor struct {
	maxPages       int
	rasterizePages bool
}

func NewExtractor(maxPages int, rasterizePages bool) *Extractor {
	return &Extractor{maxPages: maxPages, rasterizePages: rasterizePages}
}

// Extract picks the adapter from the filename extension, falling back to
// the declared content type, then to plain text.
func (e *Extractor) Extract(ctx context.Context, content []byte, filename, contentType string) (*ExtractionOutput, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf" || contentType == "application/pdf":
		return e.ExtractPDF(ctx, content)
	case ext == ".html" || ext == ".htm" || strings.HasPrefix(contentType, "text/html"):
		return e.ExtractHTML(content)
	case ext == ".xlsx" || ext == ".xls" ||
		contentType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return e.ExtractXLSX(content)
	case ext == ".docx" ||
		contentType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return e.ExtractDOCX(content)
	case ext == ".csv" || contentType == "text/csv":
		return e.ExtractCSV(content)
	default:
		return e.ExtractPlain(content)
	}
}

// ExtractPDF reads text page by page and optionally rasterizes pages for
// the vision table path.
func (e *Extractor) ExtractPDF(ctx context.Context, content []byte) (*ExtractionOutput, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := reader.NumPage()
	if e.maxPages > 0 && pages > e.maxPages {
		return nil, fmt.Errorf("PDF has %d pages, limit is %d", pages, e.maxPages)
	}

	var textBuilder strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract PDF page text", "page", i, "error", err)
			continue
		}
		textBuilder.WriteString(fmt.Sprintf("\n\n--- PAGE %d ---\n", i))
		textBuilder.WriteString(text)
	}

	out := &ExtractionOutput{
		Text:   textBuilder.String(),
		Pages:  pages,
		Method: "go-pdf",
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, fmt.Errorf("no text extracted from PDF")
	}
	e.analyze(out)

	if e.rasterizePages && hasBinary("pdftoppm") {
		out.PageImages = rasterizePDF(ctx, content, pages)
	}
	if hasBinary("pdfimages") {
		out.EmbeddedImages = extractEmbeddedImages(ctx, content)
	}
	return out, nil
}

// extractEmbeddedImages pulls the figures embedded in the PDF with poppler.
// Failures skip the document; pages come from the -p filename convention
// (prefix-PPP-NNN.png).
func extractEmbeddedImages(ctx context.Context, content []byte) []PageImage {
	dir, err := os.MkdirTemp("", "pdfimages")
	if err != nil {
		return nil
	}
	defer os.RemoveAll(dir)

	extractCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	cmd := exec.CommandContext(extractCtx, "pdfimages",
		"-png", "-p",
		"-", filepath.Join(dir, "img"),
	)
	cmd.Stdin = bytes.NewReader(content)
	if err := cmd.Run(); err != nil {
		logger.Debug("Embedded image extraction failed", "error", err)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var images []PageImage
	for _, entry := range entries {
		page := imageFilePage(entry.Name())
		if page == 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil || len(data) == 0 {
			continue
		}
		images = append(images, PageImage{PageNumber: page, Data: data})
	}
	return images
}

// imageFilePage parses the page number out of a pdfimages -p filename like
// img-003-001.png. Returns 0 when the name does not match.
func imageFilePage(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return 0
	}
	page, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0
	}
	return page
}

// rasterizePDF renders each page to PNG at 2x zoom with poppler. Render
// failures skip the page.
func rasterizePDF(ctx context.Context, content []byte, pages int) []PageImage {
	var images []PageImage
	for i := 1; i <= pages; i++ {
		renderCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		cmd := exec.CommandContext(renderCtx, "pdftoppm",
			"-png", "-r", "144",
			"-f", strconv.Itoa(i), "-l", strconv.Itoa(i),
			"-", // stdin
		)
		cmd.Stdin = bytes.NewReader(content)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		err := cmd.Run()
		cancel()
		if err != nil || stdout.Len() == 0 {
			logger.Debug("Page rasterization failed", "page", i, "error", err)
			continue
		}
		images = append(images, PageImage{PageNumber: i, Data: stdout.Bytes()})
	}
	return images
}

// ExtractHTML strips chrome elements and pulls the main content region.
func (e *Extractor) ExtractHTML(content []byte) (*ExtractionOutput, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	text := ""
	for _, selector := range []string{"main", "article", "[role='main']", "body"} {
		if sel := doc.Find(selector); sel.Length() > 0 {
			text = collapseWhitespace(sel.First().Text())
			if len(text) > 100 {
				break
			}
		}
	}
	if text == "" {
		text = collapseWhitespace(doc.Text())
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text extracted from HTML")
	}

	out := &ExtractionOutput{Text: text, Pages: 1, Method: "goquery"}
	e.analyze(out)
	return out, nil
}

// ExtractXLSX renders each sheet as a pipe table so the tabular chunker and
// table decomposer can work on it.
func (e *Extractor) ExtractXLSX(content []byte) (*ExtractionOutput, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var textBuilder strings.Builder
	var tables []PageTable

	sheets := f.GetSheetList()
	for idx, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			logger.Warn("Failed to read sheet", "sheet", sheet, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		var sheetBuilder strings.Builder
		sheetBuilder.WriteString(sheet + "\n")
		for _, row := range rows {
			sheetBuilder.WriteString(strings.Join(row, " | "))
			sheetBuilder.WriteString("\n")
		}
		sheetText := sheetBuilder.String()
		textBuilder.WriteString("\n\n" + sheetText)

		if len(rows) > 1 {
			var tableBuilder strings.Builder
			for _, row := range rows {
				tableBuilder.WriteString(strings.Join(row, " | "))
				tableBuilder.WriteString("\n")
			}
			tables = append(tables, PageTable{PageNumber: idx + 1, Text: tableBuilder.String()})
		}
	}

	out := &ExtractionOutput{
		Text:       textBuilder.String(),
		Pages:      len(sheets),
		TableTexts: tables,
		HasTables:  len(tables) > 0,
		Method:     "excelize",
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, fmt.Errorf("workbook has no readable cells")
	}
	e.analyze(out)
	return out, nil
}

// ExtractDOCX walks word/document.xml inside the zip container, collecting
// w:t runs and breaking on paragraph ends.
func (e *Extractor) ExtractDOCX(content []byte) (*ExtractionOutput, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx container: %w", err)
	}

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open document part: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("docx container has no document part")
	}
	defer docXML.Close()

	var builder strings.Builder
	decoder := xml.NewDecoder(docXML)
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document part: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.CharData:
			if inText {
				builder.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteString("\n")
			case "tbl":
				builder.WriteString("\n")
			}
		}
	}

	text := collapseWhitespace(builder.String())
	if text == "" {
		return nil, fmt.Errorf("no text extracted from docx")
	}
	out := &ExtractionOutput{Text: text, Pages: 1, Method: "docx"}
	e.analyze(out)
	return out, nil
}

// ExtractCSV treats the file as one delimited table.
func (e *Extractor) ExtractCSV(content []byte) (*ExtractionOutput, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty CSV")
	}

	// normalize commas to pipes so downstream table parsing is uniform
	lines := strings.Split(text, "\n")
	var builder strings.Builder
	for _, line := range lines {
		builder.WriteString(strings.Join(strings.Split(line, ","), " | "))
		builder.WriteString("\n")
	}
	normalized := builder.String()

	out := &ExtractionOutput{
		Text:       normalized,
		Pages:      1,
		TableTexts: []PageTable{{PageNumber: 1, Text: normalized}},
		HasTables:  true,
		Method:     "csv",
	}
	e.analyze(out)
	return out, nil
}

// ExtractPlain is the fallback for text, markdown, and unknown types.
func (e *Extractor) ExtractPlain(content []byte) (*ExtractionOutput, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty document")
	}
	out := &ExtractionOutput{Text: text, Pages: 1, Method: "plain"}
	e.analyze(out)
	return out, nil
}

func (e *Extractor) analyze(out *ExtractionOutput) {
	out.WordCount = len(strings.Fields(out.Text))
	out.Language = detectLanguage(out.Text)
	if !out.HasTables {
		out.HasTables = hasTableStructure(out.Text)
	}
}

// detectLanguage is a cheap common-word heuristic.
func detectLanguage(text string) string {
	lowerText := strings.ToLower(text)
	englishWords := []string{"the", "and", "or", "of", "to", "in", "for", "with", "on", "at"}
	englishCount := 0
	for _, word := range englishWords {
		englishCount += strings.Count(lowerText, " "+word+" ")
	}
	if englishCount > 10 {
		return "en"
	}
	return "unknown"
}

func hasTableStructure(text string) bool {
	lines := strings.Split(text, "\n")
	tabularLines := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > 10 && (strings.Count(line, "  ") > 2 || strings.Count(line, "\t") > 1 || strings.Count(line, "|") > 2) {
			tabularLines++
		}
	}
	return tabularLines > 3
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
