/*package format handles squash's miniature languages for selecting indices
along an axis, e.g.

   Times = 0..100 - 63
   Times = -10:
   Times = 0:1000:10

There are two forms. A range is written start:stop[:stride] and follows
Python slice rules: start defaults to 0, stop defaults to the length of the
axis, stride defaults to 1, and negative start/stop values count back from
the end of the axis. A single integer, which may be negative, selects one
index.

Sequence formats are a generic way to specify non-contiguous sequences of
natural numbers. They consist of a series of n tokens separated by "+" or
"-". Each token can be either a number or two numbers separated by "..".
E.g.:

  100
  0..100
  0..10 + 100
  0..100 - 63 - 10..20

These strings build up sequences of numbers by adding/removing individual
numbers and contiguous (inclusive) sequences. For example, 1, 2, 3, 15, 16,
17 could be written as 1..17 - 4..14. This is useful for skipping corrupted
time points.

All spaces around "-", "+", ":", and ".." symbols are ignored.
*/
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	g_error "github.com/phil-mansfield/squash/lib/error"
)

const (
	// Any expanded formats which would have more than BigNumber elements are
	// assumed to be bugs.
	BigNumber = 1 << 24
)

// Range is a parsed start:stop:stride selection. Nil bounds take their
// defaults when the range is resolved against an axis.
type Range struct {
	Start, Stop *int
	Stride      int
}

// Selection is a parsed selection of indices along one axis. The zero value
// selects everything.
type Selection struct {
	// Range is set for range selections.
	Range *Range
	// Indices is set for sequence-format and single-index selections.
	// Negative indices count from the end of the axis.
	Indices []int
	text    string
}

// All returns a selection of every index.
func All() Selection { return Selection{} }

// Span returns the range selection start:stop:stride.
func Span(start, stop, stride int) Selection {
	return Selection{Range: &Range{&start, &stop, stride},
		text: fmt.Sprintf("%d:%d:%d", start, stop, stride)}
}

// IsAll reports whether the selection selects every index.
func (s Selection) IsAll() bool { return s.Range == nil && s.Indices == nil }

func (s Selection) String() string {
	if s.IsAll() { return ":" }
	if s.text != "" { return s.text }
	return fmt.Sprint(s.Indices)
}

// ParseSelection parses a range, a single index, or a sequence format. An
// empty string selects everything.
func ParseSelection(text string) (Selection, error) {
	clean := strings.TrimSpace(text)
	if clean == "" || clean == ":" { return All(), nil }

	if strings.Contains(clean, ":") {
		r, err := ParseRange(clean)
		if err != nil { return Selection{}, err }
		return Selection{Range: r, text: clean}, nil
	}
	if n, err := strconv.Atoi(clean); err == nil {
		return Selection{Indices: []int{n}, text: clean}, nil
	}
	idx, err := ExpandSequenceFormat(clean)
	if err != nil {
		return Selection{}, g_error.New(g_error.Config, "the selection '%s' "+
			"is not a valid range or sequence: %s", text, err.Error())
	}
	return Selection{Indices: idx, text: clean}, nil
}

// ParseRange parses a start:stop[:stride] range.
func ParseRange(text string) (*Range, error) {
	parts := strings.Split(text, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, g_error.New(g_error.Config, "the range '%s' must have "+
			"the form start:stop or start:stop:stride", text)
	}

	r := &Range{Stride: 1}
	bounds := []**int{&r.Start, &r.Stop}
	for i := 0; i < 2; i++ {
		p := strings.TrimSpace(parts[i])
		if p == "" { continue }
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, g_error.New(g_error.Config, "'%s' in the range '%s' "+
				"is not an integer", p, text)
		}
		*bounds[i] = &n
	}

	if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
		p := strings.TrimSpace(parts[2])
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, g_error.New(g_error.Config, "the stride '%s' in the "+
				"range '%s' must be a positive integer", p, text)
		}
		r.Stride = n
	}
	return r, nil
}

// Resolve applies the range to an axis of length n, returning the first
// index, the number of selected indices and the stride.
func (r *Range) Resolve(n int) (start, count, stride int, err error) {
	start, stop, stride := 0, n, r.Stride
	if stride <= 0 { stride = 1 }
	if r.Start != nil { start = *r.Start }
	if r.Stop != nil { stop = *r.Stop }
	if start < 0 { start += n }
	if stop < 0 { stop += n }

	if start < 0 || start > n || stop < 0 || stop > n {
		return 0, 0, 0, g_error.New(g_error.IndexOutOfRange, "the range "+
			"%s falls outside an axis of length %d", r, n)
	}
	if stop <= start { return start, 0, stride, nil }
	return start, (stop - start + stride - 1) / stride, stride, nil
}

func (r *Range) String() string {
	s := func(p *int) string {
		if p == nil { return "" }
		return strconv.Itoa(*p)
	}
	return fmt.Sprintf("%s:%s:%d", s(r.Start), s(r.Stop), r.Stride)
}

// Resolve returns the sorted indices selected from an axis of length n. It
// fails with an IndexOutOfRange error if any index falls outside the axis
// or if nothing is selected.
func (s Selection) Resolve(n int) ([]int, error) {
	var out []int
	switch {
	case s.IsAll():
		out = make([]int, n)
		for i := range out { out[i] = i }
	case s.Range != nil:
		start, count, stride, err := s.Range.Resolve(n)
		if err != nil { return nil, err }
		out = make([]int, count)
		for i := range out { out[i] = start + i*stride }
	default:
		seen := map[int]bool{}
		for _, i := range s.Indices {
			j := i
			if j < 0 { j += n }
			if j < 0 || j >= n {
				return nil, g_error.New(g_error.IndexOutOfRange, "index %d "+
					"falls outside an axis of length %d", i, n)
			}
			if !seen[j] { out = append(out, j) }
			seen[j] = true
		}
		sort.Ints(out)
	}

	if len(out) == 0 {
		return nil, g_error.New(g_error.IndexOutOfRange, "the selection %s "+
			"contains no indices of an axis of length %d", s, n)
	}
	return out, nil
}

// ExpandSequenceFormat expands a sequence format string into a sorted sequence
// of integers.
func ExpandSequenceFormat(format string) ([]int, error) {
	tok, err := tokeniseSequenceFormat(format)
	if err != nil { return nil, err }
	adds, subs, err := addsSubsSequenceFormat(tok)
	if err != nil { return nil, err }

	m := map[int]bool{}
	for _, tok := range adds {
		lo, hi := sequenceTokenBounds(tok)
		if len(m)+hi-lo+1 > BigNumber {
			return nil, fmt.Errorf("This sequence would have more than %d "+
				"elements, which is almost certainly a bug.", BigNumber)
		}
		for n := lo; n <= hi; n++ {
			if m[n] {
				return nil, fmt.Errorf("The number %d is added more than once.", n)
			}
			m[n] = true
		}
	}

	for _, tok := range subs {
		lo, hi := sequenceTokenBounds(tok)
		for n := lo; n <= hi; n++ {
			if !m[n] {
				return nil, fmt.Errorf("The number %d is removed more times "+
					"than it was inserted.", n)
			}
			delete(m, n)
		}
	}

	out := make([]int, 0, len(m))
	for n := range m { out = append(out, n) }
	sort.Ints(out)
	return out, nil
}

// tokeniseSequenceFormat splits a sequence format string into numbers,
// ranges, and operators.
func tokeniseSequenceFormat(format string) ([]string, error) {
	clean := strings.ReplaceAll(format, "+", " + ")
	clean = strings.ReplaceAll(clean, "-", " - ")
	clean = strings.ReplaceAll(clean, " ..", "..")
	clean = strings.ReplaceAll(clean, ".. ", "..")

	tok := strings.Fields(clean)
	if len(tok) == 0 {
		return nil, fmt.Errorf("The format string is empty.")
	}
	return tok, nil
}

// addsSubsSequenceFormat sorts the tokens into those which add numbers and
// those which remove them. A leading "+" may be dropped.
func addsSubsSequenceFormat(tok []string) (adds, subs []string, err error) {
	if len(tok) == 0 {
		return nil, nil, fmt.Errorf("The format string is empty.")
	}

	adds, subs = []string{}, []string{}
	start := 0
	if tok[0] != "+" && tok[0] != "-" {
		if err := isSequenceFormatToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf("Element number 1, '%s', cannot be "+
				"parsed because %s", tok[0], err.Error())
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "-" && tok[i] != "+" {
			return nil, nil, fmt.Errorf("Element number %d, '%s', should be "+
				"a '-' or '+', but isn't.", i+1, tok[i])
		} else if i+1 >= len(tok) {
			return nil, nil, fmt.Errorf("The format string ends in a "+
				"trailing '%s'.", tok[i])
		} else if err := isSequenceFormatToken(tok[i+1]); err != nil {
			return nil, nil, fmt.Errorf("Element number %d, '%s', cannot be "+
				"parsed because %s", i+2, tok[i+1], err.Error())
		}

		if tok[i] == "+" {
			adds = append(adds, tok[i+1])
		} else {
			subs = append(subs, tok[i+1])
		}
	}
	return adds, subs, nil
}

// isSequenceFormatToken returns a nil error if tok is a valid number or
// range token and an error describing the problem otherwise. The message is
// meant to follow the word "because".
func isSequenceFormatToken(tok string) error {
	if len(tok) == 0 { return fmt.Errorf("the token is empty.") }
	bounds := strings.Split(tok, "..")

	switch len(bounds) {
	case 1:
		if _, err := strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[0])
		}
		return nil
	case 2:
		start, err := strconv.Atoi(bounds[0])
		if err != nil { return fmt.Errorf("'%s' is not an integer.", bounds[0]) }
		end, err := strconv.Atoi(bounds[1])
		if err != nil { return fmt.Errorf("'%s' is not an integer.", bounds[1]) }
		if end < start {
			return fmt.Errorf("lower bound %d is larger than upper bound %d.",
				start, end)
		}
		return nil
	}
	return fmt.Errorf("it has more than one '..'.")
}

// sequenceTokenBounds returns the inclusive bounds of a token that has
// already passed isSequenceFormatToken.
func sequenceTokenBounds(tok string) (lo, hi int) {
	bounds := strings.Split(tok, "..")
	lo, _ = strconv.Atoi(bounds[0])
	if len(bounds) == 1 { return lo, lo }
	hi, _ = strconv.Atoi(bounds[1])
	return lo, hi
}
