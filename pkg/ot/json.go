package ot

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON renders the operation in its wire form: a JSON array
// where a positive integer is a Retain, a negative integer is a
// Delete(-n), and a string is an Insert.
func (o *OperationSeq) MarshalJSON() ([]byte, error) {
	arr := make([]interface{}, 0, len(o.ops))
	for _, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			arr = append(arr, v.N)
		case Insert:
			arr = append(arr, v.Text)
		case Delete:
			arr = append(arr, -int64(v.N))
		}
	}
	if arr == nil {
		arr = []interface{}{}
	}
	return json.Marshal(arr)
}

// UnmarshalJSON parses the wire form described by MarshalJSON.
func (o *OperationSeq) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ot: decode operation array: %w", err)
	}

	*o = OperationSeq{}
	for _, elem := range raw {
		var s string
		if err := json.Unmarshal(elem, &s); err == nil {
			o.Insert(s)
			continue
		}
		var n int64
		if err := json.Unmarshal(elem, &n); err == nil {
			if n >= 0 {
				o.Retain(uint64(n))
			} else {
				o.Delete(uint64(-n))
			}
			continue
		}
		return fmt.Errorf("ot: invalid operation element %s", elem)
	}
	return nil
}

// FromJSON parses an operation from its wire-form JSON encoding.
func FromJSON(s string) (*OperationSeq, error) {
	var op OperationSeq
	if err := json.Unmarshal([]byte(s), &op); err != nil {
		return nil, err
	}
	return &op, nil
}
