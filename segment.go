package mathtag

import (
	"regexp"
)

// SegmentKind identifies what a piece of split text represents
type SegmentKind int

const (
	// TextSegment is plain text outside any math delimiters
	TextSegment SegmentKind = iota
	// InlineMath is content found between single dollar signs
	InlineMath
	// BlockMath is content found between double dollar signs
	BlockMath
)

func (k SegmentKind) String() string {
	switch k {
	case TextSegment:
		return "text"
	case InlineMath:
		return "inline"
	case BlockMath:
		return "block"
	default:
		return "unknown"
	}
}

// Segment is a typed piece of a text node's content
type Segment struct {
	Kind    SegmentKind
	Content string
}

var (
	// blockMathPattern matches $$...$$ lazily, across line breaks. Content may
	// be empty.
	blockMathPattern = regexp.MustCompile(`(?s)\$\$(.*?)\$\$`)
	// inlineMathPattern matches $...$ lazily, never across a line terminator
	// (\n, \r, U+2028, U+2029)
	inlineMathPattern = regexp.MustCompile(`\$([^\n\r\x{2028}\x{2029}]*?)\$`)
)

// Split breaks s into plain text and math segments. Block spans are extracted
// first; the inline pattern only runs on the text left between them.
// Empty plain segments are omitted. Unpaired dollar signs stay in the text.
func Split(s string) []Segment {
	var segments []Segment
	last := 0
	for _, loc := range blockMathPattern.FindAllStringSubmatchIndex(s, -1) {
		segments = appendInline(segments, s[last:loc[0]])
		segments = append(segments, Segment{Kind: BlockMath, Content: s[loc[2]:loc[3]]})
		last = loc[1]
	}
	return appendInline(segments, s[last:])
}

// appendInline splits plain text on inline math and appends the result
func appendInline(segments []Segment, s string) []Segment {
	last := 0
	for _, loc := range inlineMathPattern.FindAllStringSubmatchIndex(s, -1) {
		segments = appendText(segments, s[last:loc[0]])
		segments = append(segments, Segment{Kind: InlineMath, Content: s[loc[2]:loc[3]]})
		last = loc[1]
	}
	return appendText(segments, s[last:])
}

func appendText(segments []Segment, s string) []Segment {
	if s == "" {
		return segments
	}
	return append(segments, Segment{Kind: TextSegment, Content: s})
}

// HasMath reports whether s contains at least one complete math span
func HasMath(s string) bool {
	return blockMathPattern.MatchString(s) || inlineMathPattern.MatchString(s)
}
