package mathtag

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrUnknownEncoding is returned when a named input encoding is not a WHATWG label
var ErrUnknownEncoding = errors.New("mathtag: unknown encoding")

// Document is a parsed HTML tree that gets its math rewritten once, when it
// is ready.
type Document struct {
	root     *html.Node
	fragment bool

	once   sync.Once
	result Result
	err    error
}

// NewDocument wraps an existing tree
func NewDocument(root *html.Node) *Document {
	return &Document{root: root}
}

// ParseDocument parses a full HTML document. The input encoding is detected
// from contentType, a byte order mark or meta tags.
func ParseDocument(r io.Reader, contentType string) (*Document, error) {
	decoded, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset: %w", err)
	}
	return parse(decoded)
}

// ParseDocumentEncoding parses a full HTML document using the named encoding
func ParseDocumentEncoding(r io.Reader, name string) (*Document, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return parse(enc.NewDecoder().Reader(r))
}

func parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseFragment parses an HTML snippet in a body context
func ParseFragment(r io.Reader) (*Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(r, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return &Document{root: body, fragment: true}, nil
}

// Root returns the document's root node
func (d *Document) Root() *html.Node {
	return d.root
}

// Ready runs the rewriter over the document body. Only the first call
// rewrites; later calls return the first result.
func (d *Document) Ready(rw *Rewriter) (Result, error) {
	d.once.Do(func() {
		d.result, d.err = rw.Rewrite(d.Body())
	})
	return d.result, d.err
}

// Body returns the body element of a parsed document. Fragments and trees
// that are not document nodes return their root.
func (d *Document) Body() *html.Node {
	if d.fragment || d.root == nil || d.root.Type != html.DocumentNode {
		return d.root
	}
	if body := findElement(d.root, atom.Body); body != nil {
		return body
	}
	return d.root
}

// findElement returns the first element with the given atom in document order
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Render writes the document as HTML. Fragments render their children only.
func (d *Document) Render(w io.Writer) error {
	if !d.fragment {
		return html.Render(w, d.root)
	}
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(w, c); err != nil {
			return err
		}
	}
	return nil
}

// String renders the document, returning an empty string on failure
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Process parses a full document from r, rewrites it and renders the result
func (rw *Rewriter) Process(r io.Reader, contentType string) (string, Result, error) {
	doc, err := ParseDocument(r, contentType)
	if err != nil {
		return "", Result{}, err
	}
	return rw.finish(doc)
}

// ProcessFragment rewrites an HTML snippet and renders it back
func (rw *Rewriter) ProcessFragment(src string) (string, Result, error) {
	doc, err := ParseFragment(strings.NewReader(src))
	if err != nil {
		return "", Result{}, err
	}
	return rw.finish(doc)
}

// ProcessDocument rewrites an already parsed document and renders it
func (rw *Rewriter) ProcessDocument(doc *Document) (string, Result, error) {
	return rw.finish(doc)
}

func (rw *Rewriter) finish(doc *Document) (string, Result, error) {
	result, err := doc.Ready(rw)
	if err != nil {
		return "", result, err
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return "", result, fmt.Errorf("failed to render HTML: %w", err)
	}

	out := buf.String()
	if rw.config.Minify {
		out = minifyHTML(out)
	}
	return out, result, nil
}

// RewriteHTML rewrites math in a complete HTML document
func RewriteHTML(src string, opts ...Option) (string, Result, error) {
	return New(opts...).Process(strings.NewReader(src), "text/html; charset=utf-8")
}

// RewriteFragment rewrites math in an HTML snippet
func RewriteFragment(src string, opts ...Option) (string, Result, error) {
	return New(opts...).ProcessFragment(src)
}
