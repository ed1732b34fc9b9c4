// Package ingest implements the document ingestion pipeline: chunking,
// batch embedding, dual-write to the relational and vector stores, and
// optional entity extraction.
package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	// DefaultChunkSize is the window size in runes.
	DefaultChunkSize = 1500
	// DefaultChunkOverlap is the overlap between consecutive windows.
	DefaultChunkOverlap = 300
)

// Chunker splits document text into overlapping fixed-stride windows.
// Boundaries are not sentence-aware; this is a known simplification.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk normalizes markdown to plain text and slices it into windows.
// Windows are rune-based so multi-byte text never splits mid-character.
func (c *Chunker) Chunk(content string) []string {
	normalized := normalizeMarkdown(content)
	runes := []rune(normalized)
	if len(runes) == 0 {
		return nil
	}

	stride := c.Size - c.Overlap
	chunks := []string{}
	for start := 0; start < len(runes); start += stride {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// normalizeMarkdown strips markdown structure down to the text content so
// windows and embeddings do not spend budget on syntax. Non-markdown input
// passes through nearly unchanged.
func normalizeMarkdown(content string) string {
	source := []byte(content)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var builder strings.Builder
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, isBlock := node.(*ast.Paragraph); isBlock {
				builder.WriteString("\n\n")
			}
			if _, isHeading := node.(*ast.Heading); isHeading {
				builder.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch typed := node.(type) {
		case *ast.Text:
			builder.Write(typed.Segment.Value(source))
			if typed.SoftLineBreak() || typed.HardLineBreak() {
				builder.WriteString("\n")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			block := node.Lines()
			for i := 0; i < block.Len(); i++ {
				line := block.At(i)
				builder.Write(line.Value(source))
			}
			builder.WriteString("\n")
		case *ast.AutoLink:
			builder.Write(typed.URL(source))
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(builder.String())
}
