package mathtag

import (
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrNilRoot is returned when a rewrite is requested without a tree
var ErrNilRoot = errors.New("mathtag: nil root node")

// rawTextElements hold character data the HTML parser never turns into
// child elements, so a math element inside them cannot be represented.
var rawTextElements = map[string]bool{
	"script":    true,
	"style":     true,
	"textarea":  true,
	"title":     true,
	"xmp":       true,
	"iframe":    true,
	"noembed":   true,
	"noframes":  true,
	"plaintext": true,
}

// Edit replaces one text node with an ordered run of new nodes
type Edit struct {
	Target      *html.Node
	Replacement []*html.Node
}

// Result summarizes one rewrite pass
type Result struct {
	TextNodes   int `json:"text_nodes"`   // Text nodes visited outside excluded subtrees
	Rewritten   int `json:"rewritten"`    // Text nodes replaced
	InlineSpans int `json:"inline_spans"` // Inline math elements created
	BlockSpans  int `json:"block_spans"`  // Block math elements created
	Skipped     int `json:"skipped"`      // Edits dropped because the target was detached
}

// Add accumulates another result into r
func (r *Result) Add(other Result) {
	r.TextNodes += other.TextNodes
	r.Rewritten += other.Rewritten
	r.InlineSpans += other.InlineSpans
	r.BlockSpans += other.BlockSpans
	r.Skipped += other.Skipped
}

// Rewriter turns dollar-delimited math in text nodes into math elements.
// It keeps no per-pass state and may be shared between goroutines as long as
// each works on its own tree.
type Rewriter struct {
	config   Config
	excluded map[string]bool
	logger   *zap.Logger
}

// New creates a Rewriter with the given options applied over the defaults
func New(opts ...Option) *Rewriter {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	config.InlineTag = strings.ToLower(config.InlineTag)
	config.BlockTag = strings.ToLower(config.BlockTag)

	return &Rewriter{
		config:   config,
		excluded: config.excludedSet(),
		logger:   config.Logger,
	}
}

// Config returns a copy of the rewriter's configuration
func (rw *Rewriter) Config() Config {
	config := rw.config
	config.ExcludedTags = append([]string(nil), rw.config.ExcludedTags...)
	return config
}

// Plan walks the tree under root without modifying it and returns one edit
// per text node that contains math, in document order.
func (rw *Rewriter) Plan(root *html.Node) ([]Edit, Result) {
	var (
		edits  []Edit
		result Result
	)
	if root == nil {
		return nil, result
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			result.TextNodes++
			if !HasMath(n.Data) {
				return
			}
			replacement, inline, block := rw.build(Split(n.Data))
			edits = append(edits, Edit{Target: n, Replacement: replacement})
			result.InlineSpans += inline
			result.BlockSpans += block
		case html.ElementNode:
			if rw.isExcluded(n) {
				return
			}
			fallthrough
		case html.DocumentNode:
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
	}
	walk(root)

	return edits, result
}

// Apply commits planned edits. Each replacement run is inserted before its
// target, in order, and the target is then removed. Targets that no longer
// have a parent are skipped.
func (rw *Rewriter) Apply(edits []Edit) Result {
	var result Result
	for _, edit := range edits {
		parent := edit.Target.Parent
		if parent == nil {
			result.Skipped++
			continue
		}
		for _, node := range edit.Replacement {
			parent.InsertBefore(node, edit.Target)
		}
		parent.RemoveChild(edit.Target)
		result.Rewritten++
		for _, node := range edit.Replacement {
			rw.countSpan(node, &result)
		}
	}
	return result
}

// Rewrite plans and applies all edits for the tree under root
func (rw *Rewriter) Rewrite(root *html.Node) (Result, error) {
	if root == nil {
		return Result{}, ErrNilRoot
	}

	edits, planned := rw.Plan(root)
	result := rw.Apply(edits)
	result.TextNodes = planned.TextNodes

	rw.logger.Debug("rewrite pass complete",
		zap.Int("text_nodes", result.TextNodes),
		zap.Int("rewritten", result.Rewritten),
		zap.Int("inline_spans", result.InlineSpans),
		zap.Int("block_spans", result.BlockSpans),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}

func (rw *Rewriter) countSpan(n *html.Node, result *Result) {
	if n.Type != html.ElementNode {
		return
	}
	switch n.Data {
	case rw.config.InlineTag:
		result.InlineSpans++
	case rw.config.BlockTag:
		result.BlockSpans++
	}
}

// isExcluded reports whether an element's subtree must be left alone
func (rw *Rewriter) isExcluded(n *html.Node) bool {
	return rw.excluded[n.Data] || rawTextElements[n.Data]
}

// build converts segments into detached nodes and counts the math spans
func (rw *Rewriter) build(segments []Segment) (nodes []*html.Node, inline, block int) {
	nodes = make([]*html.Node, 0, len(segments))
	for _, seg := range segments {
		switch seg.Kind {
		case InlineMath:
			nodes = append(nodes, rw.mathElement(rw.config.InlineTag, seg.Content))
			inline++
		case BlockMath:
			nodes = append(nodes, rw.mathElement(rw.config.BlockTag, seg.Content))
			block++
		default:
			nodes = append(nodes, &html.Node{Type: html.TextNode, Data: seg.Content})
		}
	}
	return nodes, inline, block
}

func (rw *Rewriter) mathElement(tag, content string) *html.Node {
	el := &html.Node{
		Type: html.ElementNode,
		Data: tag,
	}
	if rw.config.Class != "" {
		el.Attr = []html.Attribute{{Key: "class", Val: rw.config.Class}}
	}
	if content != "" {
		el.AppendChild(&html.Node{Type: html.TextNode, Data: content})
	}
	return el
}
