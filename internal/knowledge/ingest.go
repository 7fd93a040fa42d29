package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Section is a run of document text under one heading.
type Section struct {
	Heading string
	Text    string
}

// IngestResult summarizes an ingestion run.
type IngestResult struct {
	Files   int
	Chunks  int
	Skipped []string
}

// Ingester loads documents into a Store.
type Ingester struct {
	store     *Store
	embedder  Embedder
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// IngesterConfig configures an Ingester. Zero chunk values use the
// package defaults. Embedder may be nil, in which case chunks are stored
// without vectors and only keyword retrieval can find them.
type IngesterConfig struct {
	Embedder     Embedder
	ChunkSize    int
	ChunkOverlap int
	Logger       *slog.Logger
}

// NewIngester creates an ingester writing to store.
func NewIngester(store *Store, cfg IngesterConfig) *Ingester {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingester{
		store:     store,
		embedder:  cfg.Embedder,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
		logger:    cfg.Logger.With("component", "ingest"),
	}
}

// Supported reports whether path has an extension the ingester reads.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".html", ".htm":
		return true
	}
	return false
}

// IngestPath ingests a single file or every supported file below a
// directory.
func (in *Ingester) IngestPath(ctx context.Context, root string) (IngestResult, error) {
	var res IngestResult

	info, err := os.Stat(root)
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		n, err := in.IngestFile(ctx, root)
		if err != nil {
			return res, err
		}
		return IngestResult{Files: 1, Chunks: n}, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !Supported(path) {
			in.logger.Info("skipping unsupported file", "path", path)
			res.Skipped = append(res.Skipped, path)
			return nil
		}
		n, err := in.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		res.Files++
		res.Chunks += n
		return nil
	})
	return res, err
}

// IngestFile parses, chunks, embeds and stores one document. The
// document's previous chunks are replaced. It returns the chunk count.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	sections, err := ParseDocument(path, raw)
	if err != nil {
		return 0, err
	}
	return in.ingestSections(ctx, filepath.Base(path), sections)
}

func (in *Ingester) ingestSections(ctx context.Context, source string, sections []Section) (int, error) {
	var chunks []Chunk
	for _, sec := range sections {
		for _, piece := range Split(sec.Text, in.chunkSize, in.overlap) {
			chunks = append(chunks, Chunk{Heading: sec.Heading, Text: piece})
		}
	}
	if len(chunks) == 0 {
		in.logger.Warn("document has no text", "source", source)
		return 0, nil
	}

	if in.embedder != nil {
		for i := range chunks {
			embText := chunks[i].Text
			if chunks[i].Heading != "" {
				embText = chunks[i].Heading + ": " + embText
			}
			emb, err := in.embedder.Generate(ctx, embText)
			if err != nil {
				return 0, fmt.Errorf("embed chunk %d of %s: %w", i, source, err)
			}
			chunks[i].Embedding = emb
		}
	}

	if _, err := in.store.ReplaceSource(ctx, source, chunks); err != nil {
		return 0, err
	}
	in.logger.Info("document ingested",
		"source", source,
		"sections", len(sections),
		"chunks", len(chunks),
		"embedded", in.embedder != nil,
	)
	return len(chunks), nil
}

// ParseDocument splits raw document bytes into sections according to the
// file extension of name.
func ParseDocument(name string, raw []byte) ([]Section, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		var buf bytes.Buffer
		if err := goldmark.Convert(raw, &buf); err != nil {
			return nil, fmt.Errorf("render markdown %s: %w", name, err)
		}
		return sectionsFromHTML(buf.String())
	case ".html", ".htm":
		return sectionsFromHTML(string(raw))
	case ".txt":
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return nil, nil
		}
		return []Section{{Text: text}}, nil
	default:
		return nil, fmt.Errorf("unsupported document type: %s", name)
	}
}

// skipElements hold no reference text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// sectionsFromHTML walks an HTML document and starts a new section at
// every h1-h3 heading. Deeper headings stay inline in their section.
func sectionsFromHTML(raw string) ([]Section, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	w := &sectionWriter{}
	w.walk(doc)
	w.flush()
	return w.sections, nil
}

type sectionWriter struct {
	sections []Section
	heading  string
	body     strings.Builder
}

func (w *sectionWriter) flush() {
	text := cleanWhitespace(w.body.String())
	if text != "" {
		w.sections = append(w.sections, Section{Heading: w.heading, Text: text})
	}
	w.body.Reset()
}

func (w *sectionWriter) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3:
			w.flush()
			w.heading = cleanWhitespace(textContent(n))
			return
		}
		if isBlockElement(n.DataAtom) && w.body.Len() > 0 {
			w.body.WriteString("\n\n")
		}
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			w.body.WriteString(text)
			w.body.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.body.WriteString("\n")
	}
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of spaces within lines and drops
// repeated blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
