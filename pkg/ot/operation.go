// Package ot implements the operational-transformation algebra that
// underlies cowrite's collaborative editing sessions: operation
// sequences over Unicode code points, their composition and
// transformation, and the cursor re-mapping used to carry selections
// across a concurrent edit.
//
// Lengths and positions throughout this package are counted in Unicode
// code points (runes), never bytes or UTF-16 units.
package ot

import (
	"errors"
	"unicode/utf8"
)

// Errors returned by the algebra. Callers that need to distinguish a
// malformed client operation from an internal bug should use errors.Is.
var (
	// ErrBaseLenMismatch is returned by Apply when the operation's base
	// length does not match the code-point length of the input string.
	ErrBaseLenMismatch = errors.New("ot: operation base length does not match string length")
	// ErrComposeLenMismatch is returned by Compose when the first
	// operation's target length does not match the second's base length.
	ErrComposeLenMismatch = errors.New("ot: compose target/base length mismatch")
	// ErrTransformLenMismatch is returned by Transform when the two
	// operations do not share a base length.
	ErrTransformLenMismatch = errors.New("ot: transform base length mismatch")
)

// Op is one primitive of an OperationSeq: Retain, Insert, or Delete.
type Op interface {
	isOp()
}

// Retain advances N code points of the base string unchanged.
type Retain struct{ N uint64 }

// Insert inserts Text (measured in code points) into the result.
type Insert struct{ Text string }

// Delete removes N code points from the base string.
type Delete struct{ N uint64 }

func (Retain) isOp() {}
func (Insert) isOp() {}
func (Delete) isOp() {}

// OperationSeq is an ordered sequence of primitives transforming a base
// string of BaseLen code points into a result of TargetLen code points.
type OperationSeq struct {
	ops       []Op
	baseLen   uint64
	targetLen uint64
}

// NewOperationSeq returns an empty operation sequence (the identity on
// the empty string).
func NewOperationSeq() *OperationSeq {
	return &OperationSeq{}
}

// WithCapacity returns an empty operation sequence whose backing slice
// of primitives is pre-sized, avoiding reallocation while building up a
// large operation.
func WithCapacity(n int) *OperationSeq {
	return &OperationSeq{ops: make([]Op, 0, n)}
}

// BaseLen returns the code-point length of the string this operation
// must be applied to.
func (o *OperationSeq) BaseLen() uint64 { return o.baseLen }

// TargetLen returns the code-point length of the string this operation
// produces.
func (o *OperationSeq) TargetLen() uint64 { return o.targetLen }

// Ops returns the canonical primitive sequence. The returned slice must
// not be mutated.
func (o *OperationSeq) Ops() []Op { return o.ops }

// IsNoop reports whether the operation leaves every string of its base
// length unchanged: either empty, or a single Retain spanning the whole
// base string.
func (o *OperationSeq) IsNoop() bool {
	switch len(o.ops) {
	case 0:
		return true
	case 1:
		_, ok := o.ops[0].(Retain)
		return ok
	default:
		return false
	}
}

// Retain appends a retain of n code points, merging with a trailing
// Retain if present. n == 0 is a no-op append.
func (o *OperationSeq) Retain(n uint64) {
	if n == 0 {
		return
	}
	o.baseLen += n
	o.targetLen += n
	if l := len(o.ops); l > 0 {
		if last, ok := o.ops[l-1].(Retain); ok {
			o.ops[l-1] = Retain{N: last.N + n}
			return
		}
	}
	o.ops = append(o.ops, Retain{N: n})
}

// Delete appends a delete of n code points, merging with a trailing
// Delete if present. n == 0 is a no-op append.
func (o *OperationSeq) Delete(n uint64) {
	if n == 0 {
		return
	}
	o.baseLen += n
	if l := len(o.ops); l > 0 {
		if last, ok := o.ops[l-1].(Delete); ok {
			o.ops[l-1] = Delete{N: last.N + n}
			return
		}
	}
	o.ops = append(o.ops, Delete{N: n})
}

// Insert appends an insertion of s, canonicalizing so that an insert
// immediately following a delete is reordered before it (insert-before-
// delete is the canonical form used for equality and for composition).
// s == "" is a no-op append.
func (o *OperationSeq) Insert(s string) {
	if s == "" {
		return
	}
	o.targetLen += uint64(utf8.RuneCountInString(s))

	l := len(o.ops)
	if l > 0 {
		if last, ok := o.ops[l-1].(Insert); ok {
			o.ops[l-1] = Insert{Text: last.Text + s}
			return
		}
		if _, ok := o.ops[l-1].(Delete); ok {
			if l > 1 {
				if prev, ok2 := o.ops[l-2].(Insert); ok2 {
					o.ops[l-2] = Insert{Text: prev.Text + s}
					return
				}
			}
			// Swap so the new insert lands before the trailing delete.
			o.ops = append(o.ops, nil)
			o.ops[l] = o.ops[l-1]
			o.ops[l-1] = Insert{Text: s}
			return
		}
	}
	o.ops = append(o.ops, Insert{Text: s})
}

// splitInsert divides s (in code points) at position k, returning the
// first k code points and the remainder.
func splitInsert(s string, k uint64) (string, string) {
	if k == 0 {
		return "", s
	}
	n := uint64(0)
	for i := range s {
		if n == k {
			return s[:i], s[i:]
		}
		n++
	}
	return s, ""
}
