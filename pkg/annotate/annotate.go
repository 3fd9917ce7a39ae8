package annotate

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/text"

	"golang.org/x/sync/errgroup"
)

// Annotator finds candidate entity mentions in a text. Offsets are byte offsets into text
// unless the annotator is a CharOffsetAnnotator.
type Annotator interface {
	Name() string
	Annotate(ctx context.Context, text string) ([]common.Mention, error)
}

// CharOffsetAnnotator marks annotators, usually external services, that report character
// offsets. RunAll converts their spans to byte offsets before validation.
type CharOffsetAnnotator interface {
	Annotator
	CharOffsets() bool
}

type charOffsets struct{ Annotator }

func (charOffsets) CharOffsets() bool { return true }

// WithCharOffsets declares that a reports character offsets.
func WithCharOffsets(a Annotator) Annotator { return charOffsets{a} }

func reportsCharOffsets(a Annotator) bool {
	c, ok := a.(CharOffsetAnnotator)
	return ok && c.CharOffsets()
}

// Output is the result of RunAll for one text.
type Output struct {
	Candidates []common.Mention
	// Failures holds one *common.ExtractionFailure per annotator whose output was dropped.
	Failures []error
}

// RunAll invokes every annotator concurrently, each bounded by timeout when timeout > 0.
// An annotator that errors, panics or returns an invalid span contributes nothing; the
// others still do. Candidates keep annotator order.
func RunAll(ctx context.Context, annotators []Annotator, doc string, timeout time.Duration) Output {
	results := make([][]common.Mention, len(annotators))
	failures := make([]error, len(annotators))

	var g errgroup.Group
	for i, a := range annotators {
		g.Go(func() error {
			mentions, err := runOne(ctx, a, doc, timeout)
			if err != nil {
				failures[i] = &common.ExtractionFailure{Annotator: a.Name(), Err: err}
				return nil
			}
			results[i] = mentions
			return nil
		})
	}
	_ = g.Wait()

	var out Output
	for i := range annotators {
		if failures[i] != nil {
			out.Failures = append(out.Failures, failures[i])
			continue
		}
		out.Candidates = append(out.Candidates, results[i]...)
	}
	return out
}

func runOne(ctx context.Context, a Annotator, doc string, timeout time.Duration) (mentions []common.Mention, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			mentions = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	mentions, err = a.Annotate(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chars := reportsCharOffsets(a)
	for i := range mentions {
		if chars {
			start, end, ok := text.ByteOffsets(doc, mentions[i].Start, mentions[i].End)
			if !ok {
				return nil, fmt.Errorf("invalid character span [%d,%d)", mentions[i].Start, mentions[i].End)
			}
			mentions[i].Start, mentions[i].End = start, end
		}
		if err := checkMention(doc, &mentions[i]); err != nil {
			return nil, err
		}
		if mentions[i].Annotator == "" {
			mentions[i].Annotator = a.Name()
		}
	}
	return mentions, nil
}

// checkMention validates m against text and fills in an empty literal.
func checkMention(doc string, m *common.Mention) error {
	if m.Start < 0 || m.End > len(doc) || m.Start >= m.End {
		return fmt.Errorf("invalid span [%d,%d) for text of length %d", m.Start, m.End, len(doc))
	}
	if !utf8.RuneStart(doc[m.Start]) || (m.End < len(doc) && !utf8.RuneStart(doc[m.End])) {
		return fmt.Errorf("span [%d,%d) splits a character", m.Start, m.End)
	}
	literal := doc[m.Start:m.End]
	if m.Text == "" {
		m.Text = literal
	} else if m.Text != literal {
		return fmt.Errorf("span [%d,%d) is %q, not %q", m.Start, m.End, literal, m.Text)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range for %q", m.Confidence, m.Text)
	}
	if m.Type == "" {
		return fmt.Errorf("missing entity type for %q", m.Text)
	}
	return nil
}
