// Package chunk turns one submission file into an ordered list of bounded
// text chunks. Plain text and markdown are split on paragraph boundaries; PDFs
// are validated and paged with pdfcpu and text is recovered from the page
// content streams.
package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Chunk struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
	Text string `json:"text"`
}

type Chunker struct {
	MaxChunkBytes int
}

func NewChunker(maxChunkBytes int) *Chunker {
	return &Chunker{MaxChunkBytes: maxChunkBytes}
}

// Split reads path and produces non-empty chunks, each at most MaxChunkBytes.
// Zero chunks is an error: an unreadable or empty document must fail loudly,
// never come back as "no findings".
func (c *Chunker) Split(path string) ([]Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var pages []pageText
	var err error
	switch ext {
	case ".pdf":
		pages, err = extractPDFPages(path)
	case ".txt", ".md":
		pages, err = readTextPages(path)
	default:
		return nil, fmt.Errorf("unsupported file type '%s' for %s", ext, path)
	}
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	var chunks []Chunk
	for _, p := range pages {
		for _, piece := range c.splitText(p.text) {
			chunks = append(chunks, Chunk{
				ID:   fmt.Sprintf("%s-p%d-c%d", name, p.page, len(chunks)),
				Page: p.page,
				Text: piece,
			})
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return chunks, nil
}

type pageText struct {
	page int
	text string
}

func readTextPages(path string) ([]pageText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return []pageText{{page: 1, text: text}}, nil
}

// splitText merges paragraphs greedily up to MaxChunkBytes. A single
// paragraph larger than the limit is hard-split at a rune boundary.
func (c *Chunker) splitText(text string) []string {
	paras := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for len(p) > c.MaxChunkBytes {
			flush()
			cut := c.MaxChunkBytes
			for cut > 0 && !isRuneStart(p[cut]) {
				cut--
			}
			if cut == 0 {
				cut = c.MaxChunkBytes
			}
			out = append(out, strings.TrimSpace(p[:cut]))
			p = strings.TrimSpace(p[cut:])
		}
		if cur.Len() > 0 && cur.Len()+len(p)+2 > c.MaxChunkBytes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
