package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var pageFileRe = regexp.MustCompile(`page_(\d+)`)

// extractPDFPages validates the PDF, extracts per-page content streams into a
// temp dir via pdfcpu, and recovers readable text from the text-showing
// operators. Scanned image-only PDFs yield no text and fail at the chunk
// level, which is the intended loud failure.
func extractPDFPages(path string) ([]pageText, error) {
	if err := api.ValidateFile(path, nil); err != nil {
		return nil, fmt.Errorf("invalid PDF %s: %w", path, err)
	}

	count, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages of %s: %w", path, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("PDF %s has no pages", path)
	}

	tmpDir, err := os.MkdirTemp("", "bastion-pdf-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractContentFile(path, tmpDir, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to extract content of %s: %w", path, err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, err
	}

	byPage := map[int]string{}
	for _, e := range entries {
		m := pageFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		raw, err := os.ReadFile(filepath.Join(tmpDir, e.Name()))
		if err != nil {
			return nil, err
		}
		byPage[page] = contentStreamText(string(raw))
	}

	var pages []pageText
	for p := 1; p <= count; p++ {
		if text := strings.TrimSpace(byPage[p]); text != "" {
			pages = append(pages, pageText{page: p, text: text})
		}
	}
	return pages, nil
}

// contentStreamText pulls the literal strings out of Tj/TJ text-showing
// operators. Not a full PDF text renderer: good enough for the text-based
// assessment reports this pipeline ingests.
func contentStreamText(stream string) string {
	var b strings.Builder
	depth := 0
	escaped := false
	for i := 0; i < len(stream); i++ {
		ch := stream[i]
		if depth == 0 {
			if ch == '(' {
				depth = 1
			}
			continue
		}
		if escaped {
			switch ch {
			case 'n', 'r':
				b.WriteByte('\n')
			case 't':
				b.WriteByte(' ')
			default:
				b.WriteByte(ch)
			}
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '(':
			depth++
			b.WriteByte(ch)
		case ')':
			depth--
			if depth == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteByte(ch)
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
