// Package diff computes line diffs between two revisions of a document.
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content.
// OldNum and NewNum are 1-based and zero when the line does not exist on
// that side.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents. Lines common to
// the start and end of both sides are matched directly; only the region
// between them goes through the LCS table.
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := e.script(oldLines, newLines)

	result := &DiffResult{Hunks: e.hunks(ops)}
	for _, op := range ops {
		switch op.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result
}

// Equal reports whether the diff found no changes.
func (r *DiffResult) Equal() bool {
	return r.Stats.Changes == 0
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// script returns every line of both sides in order, tagged as context,
// addition, or deletion.
func (e *Engine) script(oldLines, newLines [][]byte) []Line {
	pre := 0
	for pre < len(oldLines) && pre < len(newLines) && bytes.Equal(oldLines[pre], newLines[pre]) {
		pre++
	}
	suf := 0
	for suf < len(oldLines)-pre && suf < len(newLines)-pre &&
		bytes.Equal(oldLines[len(oldLines)-1-suf], newLines[len(newLines)-1-suf]) {
		suf++
	}

	ops := make([]Line, 0, len(oldLines)+len(newLines)-pre-suf)
	for k := 0; k < pre; k++ {
		ops = append(ops, Line{Type: Context, Content: string(oldLines[k]), OldNum: k + 1, NewNum: k + 1})
	}

	a := oldLines[pre : len(oldLines)-suf]
	b := newLines[pre : len(newLines)-suf]
	lcs := computeLCS(a, b)

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case bytes.Equal(a[i], b[j]):
			ops = append(ops, Line{Type: Context, Content: string(a[i]), OldNum: pre + i + 1, NewNum: pre + j + 1})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, Line{Type: Deletion, Content: string(a[i]), OldNum: pre + i + 1})
			i++
		default:
			ops = append(ops, Line{Type: Addition, Content: string(b[j]), NewNum: pre + j + 1})
			j++
		}
	}
	for ; i < len(a); i++ {
		ops = append(ops, Line{Type: Deletion, Content: string(a[i]), OldNum: pre + i + 1})
	}
	for ; j < len(b); j++ {
		ops = append(ops, Line{Type: Addition, Content: string(b[j]), NewNum: pre + j + 1})
	}

	oldTail, newTail := len(oldLines)-suf, len(newLines)-suf
	for k := 0; k < suf; k++ {
		ops = append(ops, Line{Type: Context, Content: string(oldLines[oldTail+k]), OldNum: oldTail + k + 1, NewNum: newTail + k + 1})
	}
	return ops
}

// computeLCS returns m where m[i][j] is the length of the longest common
// subsequence of a[i:] and b[j:].
func computeLCS(a, b [][]byte) [][]int {
	m := make([][]int, len(a)+1)
	for i := range m {
		m[i] = make([]int, len(b)+1)
	}

	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if bytes.Equal(a[i], b[j]) {
				m[i][j] = m[i+1][j+1] + 1
			} else {
				m[i][j] = max(m[i+1][j], m[i][j+1])
			}
		}
	}
	return m
}

// hunks groups changes closer than twice the context into one hunk and
// surrounds each with up to contextLines of context.
func (e *Engine) hunks(ops []Line) []Hunk {
	var hunks []Hunk

	i := 0
	for i < len(ops) {
		if ops[i].Type == Context {
			i++
			continue
		}

		end := i
		for k := i + 1; k < len(ops); k++ {
			if ops[k].Type == Context {
				if k-end > 2*e.contextLines {
					break
				}
				continue
			}
			end = k
		}

		start := max(0, i-e.contextLines)
		stop := min(len(ops), end+e.contextLines+1)
		hunks = append(hunks, newHunk(ops, start, stop))
		i = stop
	}
	return hunks
}

func newHunk(ops []Line, start, stop int) Hunk {
	var oldBefore, newBefore int
	for _, op := range ops[:start] {
		if op.OldNum > 0 {
			oldBefore++
		}
		if op.NewNum > 0 {
			newBefore++
		}
	}

	h := Hunk{Lines: ops[start:stop]}
	for _, op := range h.Lines {
		if op.OldNum > 0 {
			h.OldLines++
		}
		if op.NewNum > 0 {
			h.NewLines++
		}
	}

	// Unified diff convention: an empty side starts at the line before.
	h.OldStart = oldBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	h.NewStart = newBefore
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		buf.WriteString(hunk.Header())
		buf.WriteByte('\n')

		for _, line := range hunk.Lines {
			buf.WriteString(line.Prefix())
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// Header returns the "@@ -a,b +c,d @@" line of the hunk.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
}

func (l Line) Prefix() string {
	switch l.Type {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	default:
		return " "
	}
}
