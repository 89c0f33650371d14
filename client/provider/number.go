package provider

import (
	"bytes"
	"math"
	"strconv"
)

// number is a JSON value the provider sends either as a number or as a
// numeric string (64 bit integers are string encoded in its JSON). It is
// always parsed to a float before use so latencies compare numerically.
type number struct {
	value float64
	valid bool
	raw   string
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	n.raw = string(b)

	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(bytes.Trim(b, `"`))
	if len(s) == 0 {
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		// reported by the caller, a bad value shouldn't fail the whole response
		return nil
	}

	n.value = v
	n.valid = true
	return nil
}

func (n number) ptr() *float64 {
	if !n.valid {
		return nil
	}
	v := n.value
	return &v
}

func (n number) intPtr() *int {
	if !n.valid {
		return nil
	}
	v := int(n.value)
	return &v
}
