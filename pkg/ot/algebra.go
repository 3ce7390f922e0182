package ot

import (
	"fmt"
	"strings"
)

// Apply walks op against s, producing the result string. It fails if
// op's base length does not match the code-point length of s.
func (o *OperationSeq) Apply(s string) (string, error) {
	runes := []rune(s)
	if uint64(len(runes)) != o.baseLen {
		return "", fmt.Errorf("%w: base_len=%d, input has %d code points", ErrBaseLenMismatch, o.baseLen, len(runes))
	}

	var b strings.Builder
	pos := 0
	for _, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			end := pos + int(v.N)
			if end > len(runes) {
				return "", fmt.Errorf("%w: retain runs past end of input", ErrBaseLenMismatch)
			}
			b.WriteString(string(runes[pos:end]))
			pos = end
		case Insert:
			b.WriteString(v.Text)
		case Delete:
			pos += int(v.N)
			if pos > len(runes) {
				return "", fmt.Errorf("%w: delete runs past end of input", ErrBaseLenMismatch)
			}
		}
	}
	return b.String(), nil
}

// Invert produces the operation that undoes o, given the base string o
// was computed against: Apply(Invert(o, s), Apply(o, s)) == s.
func (o *OperationSeq) Invert(s string) *OperationSeq {
	runes := []rune(s)
	inverse := NewOperationSeq()
	pos := 0
	for _, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			inverse.Retain(v.N)
			pos += int(v.N)
		case Insert:
			inverse.Delete(uint64(len([]rune(v.Text))))
		case Delete:
			end := pos + int(v.N)
			if end > len(runes) {
				end = len(runes)
			}
			inverse.Insert(string(runes[pos:end]))
			pos = end
		}
	}
	return inverse
}

// Compose returns c such that Apply(c, s) == Apply(other, Apply(o, s))
// for every s of matching length. It fails if o's target length does
// not equal other's base length.
func (o *OperationSeq) Compose(other *OperationSeq) (*OperationSeq, error) {
	if o.targetLen != other.baseLen {
		return nil, fmt.Errorf("%w: %d != %d", ErrComposeLenMismatch, o.targetLen, other.baseLen)
	}

	result := WithCapacity(len(o.ops) + len(other.ops))
	ops1, i1 := o.ops, 0
	ops2, i2 := other.ops, 0
	next1 := func() (Op, bool) {
		if i1 >= len(ops1) {
			return nil, false
		}
		v := ops1[i1]
		i1++
		return v, true
	}
	next2 := func() (Op, bool) {
		if i2 >= len(ops2) {
			return nil, false
		}
		v := ops2[i2]
		i2++
		return v, true
	}

	op1, ok1 := next1()
	op2, ok2 := next2()
	for ok1 || ok2 {
		if ok1 {
			if d, isDel := op1.(Delete); isDel {
				result.Delete(d.N)
				op1, ok1 = next1()
				continue
			}
		}
		if ok2 {
			if ins, isIns := op2.(Insert); isIns {
				result.Insert(ins.Text)
				op2, ok2 = next2()
				continue
			}
		}
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: operations have mismatched lengths", ErrComposeLenMismatch)
		}

		switch a := op1.(type) {
		case Retain:
			switch b := op2.(type) {
			case Retain:
				switch {
				case a.N < b.N:
					result.Retain(a.N)
					op2 = Retain{N: b.N - a.N}
					op1, ok1 = next1()
				case a.N > b.N:
					result.Retain(b.N)
					op1 = Retain{N: a.N - b.N}
					op2, ok2 = next2()
				default:
					result.Retain(a.N)
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			case Delete:
				switch {
				case a.N < b.N:
					result.Delete(a.N)
					op2 = Delete{N: b.N - a.N}
					op1, ok1 = next1()
				case a.N > b.N:
					result.Delete(b.N)
					op1 = Retain{N: a.N - b.N}
					op2, ok2 = next2()
				default:
					result.Delete(a.N)
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			default:
				return nil, fmt.Errorf("%w: unexpected op pairing", ErrComposeLenMismatch)
			}
		case Insert:
			switch b := op2.(type) {
			case Retain:
				chars := uint64(len([]rune(a.Text)))
				switch {
				case chars < b.N:
					result.Insert(a.Text)
					op2 = Retain{N: b.N - chars}
					op1, ok1 = next1()
				case chars > b.N:
					head, tail := splitInsert(a.Text, b.N)
					result.Insert(head)
					op1 = Insert{Text: tail}
					op2, ok2 = next2()
				default:
					result.Insert(a.Text)
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			case Delete:
				chars := uint64(len([]rune(a.Text)))
				switch {
				case chars < b.N:
					op2 = Delete{N: b.N - chars}
					op1, ok1 = next1()
				case chars > b.N:
					_, tail := splitInsert(a.Text, b.N)
					op1 = Insert{Text: tail}
					op2, ok2 = next2()
				default:
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			default:
				return nil, fmt.Errorf("%w: unexpected op pairing", ErrComposeLenMismatch)
			}
		default:
			return nil, fmt.Errorf("%w: unexpected op pairing", ErrComposeLenMismatch)
		}
	}
	return result, nil
}

// Transform produces (aPrime, bPrime) such that
// Apply(bPrime, Apply(o, s)) == Apply(aPrime, Apply(other, s)) for every
// s of matching length. Ties between simultaneous inserts at the same
// position are broken in o's favor: o's insert is placed first. This is
// the "a wins" convention the server applies with incoming client
// operations as o and history entries as other.
func (o *OperationSeq) Transform(other *OperationSeq) (*OperationSeq, *OperationSeq, error) {
	if o.baseLen != other.baseLen {
		return nil, nil, fmt.Errorf("%w: %d != %d", ErrTransformLenMismatch, o.baseLen, other.baseLen)
	}

	aPrime := NewOperationSeq()
	bPrime := NewOperationSeq()

	ops1, i1 := o.ops, 0
	ops2, i2 := other.ops, 0
	next1 := func() (Op, bool) {
		if i1 >= len(ops1) {
			return nil, false
		}
		v := ops1[i1]
		i1++
		return v, true
	}
	next2 := func() (Op, bool) {
		if i2 >= len(ops2) {
			return nil, false
		}
		v := ops2[i2]
		i2++
		return v, true
	}

	op1, ok1 := next1()
	op2, ok2 := next2()
	for ok1 || ok2 {
		if ok1 {
			if ins, isIns := op1.(Insert); isIns {
				aPrime.Insert(ins.Text)
				bPrime.Retain(uint64(len([]rune(ins.Text))))
				op1, ok1 = next1()
				continue
			}
		}
		if ok2 {
			if ins, isIns := op2.(Insert); isIns {
				aPrime.Retain(uint64(len([]rune(ins.Text))))
				bPrime.Insert(ins.Text)
				op2, ok2 = next2()
				continue
			}
		}
		if !ok1 || !ok2 {
			return nil, nil, fmt.Errorf("%w: operations have mismatched lengths", ErrTransformLenMismatch)
		}

		switch a := op1.(type) {
		case Retain:
			switch b := op2.(type) {
			case Retain:
				switch {
				case a.N < b.N:
					aPrime.Retain(a.N)
					bPrime.Retain(a.N)
					op2 = Retain{N: b.N - a.N}
					op1, ok1 = next1()
				case a.N > b.N:
					aPrime.Retain(b.N)
					bPrime.Retain(b.N)
					op1 = Retain{N: a.N - b.N}
					op2, ok2 = next2()
				default:
					aPrime.Retain(a.N)
					bPrime.Retain(a.N)
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			case Delete:
				switch {
				case a.N < b.N:
					op2 = Delete{N: b.N - a.N}
					op1, ok1 = next1()
				case a.N > b.N:
					op1 = Retain{N: a.N - b.N}
					op2, ok2 = next2()
				default:
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			default:
				return nil, nil, fmt.Errorf("%w: unexpected op pairing", ErrTransformLenMismatch)
			}
		case Delete:
			switch b := op2.(type) {
			case Retain:
				switch {
				case a.N < b.N:
					aPrime.Delete(a.N)
					op2 = Retain{N: b.N - a.N}
					op1, ok1 = next1()
				case a.N > b.N:
					aPrime.Delete(b.N)
					op1 = Delete{N: a.N - b.N}
					op2, ok2 = next2()
				default:
					aPrime.Delete(a.N)
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			case Delete:
				switch {
				case a.N < b.N:
					op2 = Delete{N: b.N - a.N}
					op1, ok1 = next1()
				case a.N > b.N:
					op1 = Delete{N: a.N - b.N}
					op2, ok2 = next2()
				default:
					op1, ok1 = next1()
					op2, ok2 = next2()
				}
			default:
				return nil, nil, fmt.Errorf("%w: unexpected op pairing", ErrTransformLenMismatch)
			}
		default:
			return nil, nil, fmt.Errorf("%w: unexpected op pairing", ErrTransformLenMismatch)
		}
	}
	return aPrime, bPrime, nil
}

// TransformIndex re-maps a single cursor/selection endpoint across op.
// An insertion at or before the cursor shifts it right by the inserted
// length ("float right" over an insert at the cursor); a
// deletion spanning the cursor clamps it to the deletion's start.
func TransformIndex(op *OperationSeq, position uint32) uint32 {
	index := int64(position)
	newIndex := index

	for _, o := range op.Ops() {
		if index < 0 {
			break
		}
		switch v := o.(type) {
		case Retain:
			index -= int64(v.N)
		case Insert:
			newIndex += int64(len([]rune(v.Text)))
		case Delete:
			if index >= int64(v.N) {
				newIndex -= int64(v.N)
			} else if index > 0 {
				newIndex -= index
			}
			index -= int64(v.N)
		}
	}

	if newIndex < 0 {
		return 0
	}
	return uint32(newIndex)
}
