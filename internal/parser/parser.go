package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"examgen/internal/config"
	"examgen/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Page is the extracted text of one page (or sheet/slide) of a source
// document. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// ExtractPages pulls plain text out of the raw document bytes, dispatching
// on the filename extension. Formats without a page concept (txt, md,
// docx) yield a single page; spreadsheets yield one page per sheet.
func ExtractPages(raw []byte, filename string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return extractPDF(raw)
	case ".docx":
		return extractDOCX(raw)
	case ".xlsx":
		return extractXLSX(raw)
	case ".ods":
		return extractODS(raw)
	case ".md", ".markdown":
		return extractMarkdown(raw)
	case ".txt":
		return []Page{{Number: 1, Text: string(raw)}}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// ChunkDocument extracts text and splits it into chunks using the
// configured size and overlap. Chunking is deterministic: the same bytes
// and config always produce the same boundaries and page attribution, so
// citations stay stable across rebuilds. A chunk spanning a page break is
// attributed to the page containing the majority of its characters, ties
// going to the earlier page. DocumentID on the returned chunks is left
// empty for the caller to fill.
func ChunkDocument(raw []byte, filename string, cfg *config.Config) ([]models.Chunk, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()

	pages, err := ExtractPages(raw, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableDocument, err)
	}

	// Join page texts into one body so chunks may cross page breaks,
	// remembering the character span each page occupies.
	var body strings.Builder
	var pspans []pageSpan
	for _, p := range pages {
		t := strings.TrimSpace(p.Text)
		if t == "" {
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		start := body.Len()
		body.WriteString(t)
		pspans = append(pspans, pageSpan{page: p.Number, start: start, end: body.Len()})
	}

	spans := chunkSpans(body.String(), cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUnreadableDocument, filename)
	}

	chunks := make([]models.Chunk, 0, len(spans))
	for i, s := range spans {
		chunks = append(chunks, models.Chunk{
			Seq:  i,
			Text: s.text,
			Page: majorityPage(s.start, s.start+len(s.text), pspans),
		})
	}
	return chunks, nil
}

type pageSpan struct {
	page, start, end int
}

// majorityPage picks the page holding the most characters of [start,end).
// Strict greater-than keeps ties on the earlier page.
func majorityPage(start, end int, spans []pageSpan) int {
	best, bestOverlap := 1, 0
	for _, ps := range spans {
		lo, hi := max(start, ps.start), min(end, ps.end)
		if hi-lo > bestOverlap {
			bestOverlap = hi - lo
			best = ps.page
		}
	}
	return best
}

type chunkSpan struct {
	text  string
	start int
}

// chunkSpans splits content into chunks of at most maxChars with
// overlapChars of overlap, preferring to break at a space, newline or
// full stop within the last tenth of the chunk.
func chunkSpans(content string, maxChars, overlapChars int) []chunkSpan {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}
	contentLen := len(content)
	if contentLen == 0 {
		return nil
	}

	if contentLen <= maxChars {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return nil
		}
		lead := contentLen - len(strings.TrimLeft(content, " \t\n\r"))
		return []chunkSpan{{text: trimmed, start: lead}}
	}

	var chunks []chunkSpan
	start := 0
	for start < contentLen {
		end := min(start+maxChars, contentLen)

		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}

		raw := content[start:end]
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			lead := len(raw) - len(strings.TrimLeft(raw, " \t\n\r"))
			chunks = append(chunks, chunkSpan{text: trimmed, start: start + lead})
		}

		if end >= contentLen {
			break
		}
		// Stride from the adjusted end, not the nominal one: a clean
		// break can pull end back further than the overlap reaches,
		// and a fixed stride would skip the characters in between.
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func extractPDF(raw []byte) ([]Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}

	var pages []Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func extractDOCX(raw []byte) ([]Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	doc := r.Editable()
	var text strings.Builder
	for _, p := range strings.Split(doc.GetContent(), "\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		text.WriteString(p)
		text.WriteString("\n")
	}
	// DOCX has no page numbers; everything lands on page 1.
	return []Page{{Number: 1, Text: text.String()}}, nil
}

func extractXLSX(raw []byte) ([]Page, error) {
	f, err := xlsx.OpenBinary(raw)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		// 1-based sheet number stands in for the page.
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func extractODS(raw []byte) ([]Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// extractMarkdown walks the goldmark AST and collects the text segments,
// dropping formatting so headings and emphasis do not leak markup into
// chunks.
func extractMarkdown(raw []byte) ([]Page, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(raw))

	var buf strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(raw))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteString("\n")
			}
		case *ast.Heading, *ast.Paragraph, *ast.ListItem:
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 1, Text: buf.String()}}, nil
}
