package services

import (
	"path/filepath"
	"regexp"
	"strings"

	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
)

// Detected content types selecting chunker parameters.
const (
	ContentTypeDocumentation = "documentation"
	ContentTypeCode          = "code"
	ContentTypeNarrative     = "narrative"
	ContentTypeTabular       = "tabular"
	ContentTypeFAQ           = "faq"
	ContentTypeGeneral       = "general"
)

// ChunkerConfig is the per-content-type splitting strategy. Separators are
// ordered strongest first; the empty separator splits by character.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

var chunkerConfigs = map[string]ChunkerConfig{
	ContentTypeDocumentation: {800, 400, []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n", ". ", " ", ""}},
	ContentTypeCode:          {700, 350, []string{"\n```", "\nclass ", "\ndef ", "\nfunction ", "\n\n", "\n", " ", ""}},
	ContentTypeNarrative:     {1500, 300, []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}},
	ContentTypeTabular:       {600, 200, []string{"\n\n", "\n", "|", " ", ""}},
	ContentTypeFAQ:           {500, 100, []string{"\nQ:", "\nQuestion:", "\n\n", "\n", ""}},
	ContentTypeGeneral:       {500, 50, []string{"\n\n", "\n", ". ", " ", ""}},
}

// ChunkMetadata carries structural flags used for downstream boosting.
type ChunkMetadata struct {
	CharCount         int    `json:"char_count"`
	WordCount         int    `json:"word_count"`
	HasCode           bool   `json:"has_code,omitempty"`
	HasList           bool   `json:"has_list,omitempty"`
	HasTable          bool   `json:"has_table,omitempty"`
	HasHeading        bool   `json:"has_heading,omitempty"`
	HasSteps          bool   `json:"has_steps,omitempty"`
	OriginalChunkType string `json:"original_chunk_type,omitempty"`
	HeaderPath        string `json:"header_path,omitempty"`
	ParentIndex       *int   `json:"parent_index,omitempty"`
}

// TypedChunk is the chunker's output unit.
type TypedChunk struct {
	Index       int           `json:"index"`
	Content     string        `json:"content"`
	ContentType string        `json:"content_type"`
	ChunkType   string        `json:"chunk_type"`
	Metadata    ChunkMetadata `json:"metadata"`
}

// ContentAwareChunker adapts splitting strategy to the detected structure
// of the input text.
type ContentAwareChunker struct {
	maxChunkSize  int
	qaPairRegex   *regexp.Regexp
	questionRegex *regexp.Regexp
	faqMarkRegex  *regexp.Regexp
	headerRegex   *regexp.Regexp
	numberedRegex *regexp.Regexp
	bulletRegex   *regexp.Regexp
	codeRegex     *regexp.Regexp
	capsRegex     *regexp.Regexp
	pageRegex     *regexp.Regexp
	sentenceRegex *regexp.Regexp
}

func NewContentAwareChunker(maxChunkSize int) *ContentAwareChunker {
	return &ContentAwareChunker{
		maxChunkSize:  maxChunkSize,
		qaPairRegex:   regexp.MustCompile(`(?is)\A\s*(.+?)\n\s*(?:A:|Answer:)\s*(.+)\z`),
		questionRegex: regexp.MustCompile(`(?im)^\s*(?:Q:|Question:)`),
		faqMarkRegex:  regexp.MustCompile(`(?im)^\s*(?:Q:|A:|Question:|Answer:)`),
		headerRegex:   regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`),
		numberedRegex: regexp.MustCompile(`(?m)^\s*\d+[\.\)]\s+`),
		bulletRegex:   regexp.MustCompile(`(?m)^\s*[-*•]\s+`),
		codeRegex:     regexp.MustCompile(`(?m)(?:^\s*(?:def |function |class |import |from .+ import |return |public |private |func )|[{};]\s*$)`),
		capsRegex:     regexp.MustCompile(`(?m)^[A-Z][A-Z0-9 \-:]{4,}$`),
		pageRegex:     regexp.MustCompile(`(?i)^(?:page|--- page)\s+\d+`),
		sentenceRegex: regexp.MustCompile(`[.!?]+\s+`),
	}
}

// DetectContentType classifies text, preferring an explicit filename hint.
func (c *ContentAwareChunker) DetectContentType(text, fileTypeHint string) string {
	if ct := contentTypeFromHint(fileTypeHint); ct != "" {
		return ct
	}
	if strings.TrimSpace(text) == "" {
		return ContentTypeGeneral
	}

	faqMarks := len(c.faqMarkRegex.FindAllString(text, -1))
	qaPairs := len(c.faqPairs(text))
	if faqMarks >= 2 || qaPairs >= 3 {
		return ContentTypeFAQ
	}

	codeScore := strings.Count(text, "```")*2 + len(c.codeRegex.FindAllString(text, -1))
	if codeScore > 5 {
		return ContentTypeCode
	}

	tableScore := strings.Count(text, "|") + strings.Count(text, "\t\t")
	if tableScore > 5 {
		return ContentTypeTabular
	}

	headings := len(c.headerRegex.FindAllString(text, -1))
	lists := len(c.bulletRegex.FindAllString(text, -1)) + len(c.numberedRegex.FindAllString(text, -1))
	docScore := headings + lists/2
	if docScore > 3 && (headings > 2 || lists > 5) {
		return ContentTypeDocumentation
	}

	if c.avgParagraphLen(text) > 300 && c.avgSentenceWords(text) > 20 {
		return ContentTypeNarrative
	}
	return ContentTypeGeneral
}

func contentTypeFromHint(hint string) string {
	ext := strings.ToLower(filepath.Ext(hint))
	if ext == "" {
		ext = strings.ToLower(hint)
	}
	switch ext {
	case ".csv", ".tsv", ".xlsx", ".xls":
		return ContentTypeTabular
	case ".py", ".js", ".ts", ".go", ".java", ".c", ".cpp", ".rb", ".rs", ".php":
		return ContentTypeCode
	case ".md", ".rst":
		return ContentTypeDocumentation
	}
	return ""
}

// Chunk splits text according to its detected content type. It never fails:
// on internal errors a fixed-size splitter takes over.
func (c *ContentAwareChunker) Chunk(text, fileTypeHint string) (chunks []TypedChunk) {
	if strings.TrimSpace(text) == "" {
		return []TypedChunk{}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Chunker failed, using fixed splitter", "panic", r)
			chunks = c.fixedChunk(text)
		}
	}()

	contentType := c.DetectContentType(text, fileTypeHint)
	cfg := chunkerConfigs[contentType]

	var pieces []string
	switch contentType {
	case ContentTypeFAQ:
		pieces = c.chunkFAQ(text, cfg)
	case ContentTypeDocumentation:
		pieces = c.chunkByHeaders(text, cfg)
	default:
		pieces = c.splitRecursive(c.preprocess(text), cfg.Separators, cfg.ChunkSize, cfg.ChunkOverlap)
	}

	chunks = make([]TypedChunk, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, c.makeChunk(len(chunks), piece, contentType, ""))
	}
	return chunks
}

// ChunkHierarchical emits parent chunks at the normal size and child chunks
// at a third of it, each child carrying its parent's index.
func (c *ContentAwareChunker) ChunkHierarchical(text, fileTypeHint string) []TypedChunk {
	parents := c.Chunk(text, fileTypeHint)
	if len(parents) == 0 {
		return parents
	}

	contentType := parents[0].ContentType
	cfg := chunkerConfigs[contentType]
	childSize := cfg.ChunkSize / 3
	childOverlap := cfg.ChunkOverlap / 2

	out := make([]TypedChunk, 0, len(parents)*3)
	for _, parent := range parents {
		out = append(out, parent)
		if len(parent.Content) <= childSize {
			continue
		}
		parentIdx := parent.Index
		for _, piece := range c.splitRecursive(parent.Content, cfg.Separators, childSize, childOverlap) {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			child := c.makeChunk(len(out), piece, contentType, "")
			child.Metadata.ParentIndex = &parentIdx
			out = append(out, child)
		}
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// chunkFAQ extracts Q/A pairs as one chunk each, falling back to the FAQ
// separator ladder when no pairs match.
func (c *ContentAwareChunker) chunkFAQ(text string, cfg ChunkerConfig) []string {
	pairs := c.faqPairs(text)
	if len(pairs) == 0 {
		return c.splitRecursive(text, cfg.Separators, cfg.ChunkSize, cfg.ChunkOverlap)
	}
	pieces := make([]string, 0, len(pairs))
	for _, p := range pairs {
		pieces = append(pieces, "Q: "+p[0]+"\nA: "+p[1])
	}
	return pieces
}

// faqPairs splits on question markers and parses each block into a
// (question, answer) pair.
func (c *ContentAwareChunker) faqPairs(text string) [][2]string {
	starts := c.questionRegex.FindAllStringIndex(text, -1)
	var pairs [][2]string
	for i, start := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		block := text[start[1]:end]
		m := c.qaPairRegex.FindStringSubmatch(block)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(m[1])
		a := strings.TrimSpace(m[2])
		if q == "" || a == "" {
			continue
		}
		pairs = append(pairs, [2]string{q, a})
	}
	return pairs
}

// chunkByHeaders pre-splits on markdown headers, then re-chunks any section
// still over size. Children are prefixed with the header path so context
// survives chunk boundaries.
func (c *ContentAwareChunker) chunkByHeaders(text string, cfg ChunkerConfig) []string {
	locs := c.headerRegex.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return c.splitRecursive(c.preprocess(text), cfg.Separators, cfg.ChunkSize, cfg.ChunkOverlap)
	}

	type section struct {
		path string
		body string
	}
	var sections []section
	// headerPath[level] = current header text at that depth
	headerPath := make(map[int]string)

	if locs[0][0] > 0 {
		sections = append(sections, section{"", text[:locs[0][0]]})
	}
	for i, loc := range locs {
		level := loc[3] - loc[2]
		title := strings.TrimSpace(text[loc[4]:loc[5]])
		headerPath[level] = title
		for l := level + 1; l <= 6; l++ {
			delete(headerPath, l)
		}

		var parts []string
		for l := 1; l <= level; l++ {
			if h, ok := headerPath[l]; ok {
				parts = append(parts, h)
			}
		}
		path := strings.Join(parts, " > ")

		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{path, text[loc[1]:end]})
	}

	var pieces []string
	for _, sec := range sections {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		prefix := ""
		if sec.path != "" {
			prefix = sec.path + "\n\n"
		}
		if len(prefix)+len(body) <= cfg.ChunkSize {
			pieces = append(pieces, prefix+body)
			continue
		}
		for _, sub := range c.splitRecursive(body, cfg.Separators, cfg.ChunkSize, cfg.ChunkOverlap) {
			sub = strings.TrimSpace(sub)
			if sub != "" {
				pieces = append(pieces, prefix+sub)
			}
		}
	}
	return pieces
}

// preprocess inserts blank lines before list runs and ALL-CAPS headers so
// the separator ladder does not cut through them.
func (c *ContentAwareChunker) preprocess(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	inList := false
	for _, line := range lines {
		isListItem := c.bulletRegex.MatchString(line) || c.numberedRegex.MatchString(line)
		isCapsHeader := c.capsRegex.MatchString(strings.TrimSpace(line))

		if (isListItem && !inList) || isCapsHeader {
			if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
				out = append(out, "")
			}
		}
		inList = isListItem
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// splitRecursive applies the separator ladder: split on the first separator
// present, recursively re-split oversized fragments with the remaining
// ladder, then merge fragments into overlapping windows.
func (c *ContentAwareChunker) splitRecursive(text string, separators []string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	sep := ""
	rest := separators
	for i, s := range separators {
		if s == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var fragments []string
	if sep == "" {
		for start := 0; start < len(text); start += size {
			end := start + size
			if end > len(text) {
				end = len(text)
			}
			fragments = append(fragments, text[start:end])
		}
		return c.mergeFragments(fragments, "", size, overlap)
	}

	for i, part := range strings.Split(text, sep) {
		if i > 0 {
			// keep the separator glued to the fragment it introduced
			part = strings.TrimLeft(sep, "\n") + part
		}
		if len(part) > size {
			fragments = append(fragments, c.splitRecursive(part, rest, size, overlap)...)
		} else if strings.TrimSpace(part) != "" {
			fragments = append(fragments, part)
		}
	}
	return c.mergeFragments(fragments, "\n", size, overlap)
}

// mergeFragments packs fragments into chunks up to size, carrying an
// overlap tail from each finished chunk into the next.
func (c *ContentAwareChunker) mergeFragments(fragments []string, joiner string, size, overlap int) []string {
	var chunks []string
	current := new(strings.Builder)

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := current.String()
		chunks = append(chunks, chunk)
		current = new(strings.Builder)
		if overlap > 0 {
			current.WriteString(c.overlapTail(chunk, overlap))
		}
	}

	for _, frag := range fragments {
		if current.Len() > 0 && current.Len()+len(joiner)+len(frag) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(joiner)
		}
		current.WriteString(frag)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// overlapTail returns up to n trailing characters, preferring a sentence
// boundary start.
func (c *ContentAwareChunker) overlapTail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if loc := c.sentenceRegex.FindStringIndex(tail); loc != nil {
		return tail[loc[1]:]
	}
	return tail
}

// fixedChunk is the last-resort splitter.
func (c *ContentAwareChunker) fixedChunk(text string) []TypedChunk {
	size := c.maxChunkSize
	if size <= 0 {
		size = 2000
	}
	var chunks []TypedChunk
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		piece := strings.TrimSpace(text[start:end])
		if piece == "" {
			continue
		}
		chunks = append(chunks, c.makeChunk(len(chunks), piece, ContentTypeGeneral, ""))
	}
	return chunks
}

func (c *ContentAwareChunker) makeChunk(index int, content, contentType, headerPath string) TypedChunk {
	original := c.classify(content)
	return TypedChunk{
		Index:       index,
		Content:     content,
		ContentType: contentType,
		ChunkType:   mapChunkType(original),
		Metadata: ChunkMetadata{
			CharCount:         len(content),
			WordCount:         len(strings.Fields(content)),
			HasCode:           strings.Contains(content, "```") || c.codeRegex.MatchString(content),
			HasList:           c.bulletRegex.MatchString(content),
			HasTable:          strings.Count(content, "|") > 3,
			HasHeading:        c.headerRegex.MatchString(content),
			HasSteps:          len(c.numberedRegex.FindAllString(content, -1)) >= 2,
			OriginalChunkType: original,
			HeaderPath:        headerPath,
		},
	}
}

// classify assigns the fine-grained chunk label.
func (c *ContentAwareChunker) classify(content string) string {
	switch {
	case len(c.numberedRegex.FindAllString(content, -1)) >= 2:
		return "instructions"
	case c.headerRegex.MatchString(content) || c.pageRegex.MatchString(content):
		return "heading"
	case c.faqMarkRegex.MatchString(content):
		return "faq"
	case strings.Count(content, "|") > 3:
		return "table"
	case strings.Contains(content, "```") || len(c.codeRegex.FindAllString(content, -1)) >= 2:
		return "code"
	case len(c.bulletRegex.FindAllString(content, -1)) >= 2:
		return "list"
	default:
		return "text"
	}
}

// mapChunkType folds the fine-grained label into the stored enum.
func mapChunkType(original string) string {
	switch original {
	case "heading":
		return models.ChunkTypeHeading
	case "faq":
		return models.ChunkTypeFAQ
	case "table":
		return models.ChunkTypeTable
	case "code":
		return models.ChunkTypeCode
	default:
		return models.ChunkTypeText
	}
}

func (c *ContentAwareChunker) avgParagraphLen(text string) int {
	paras := strings.Split(text, "\n\n")
	total, count := 0, 0
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		total += len(p)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / count
}

func (c *ContentAwareChunker) avgSentenceWords(text string) int {
	sentences := c.sentenceRegex.Split(text, -1)
	total, count := 0, 0
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		total += len(strings.Fields(s))
		count++
	}
	if count == 0 {
		return 0
	}
	return total / count
}
