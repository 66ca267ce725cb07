package wa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Int64 is a 64-bit integer that accepts the encodings protocol libraries use
// for long values: JSON numbers, decimal strings, and {low, high, unsigned} objects.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("wa: invalid int64 string %q", s)
		}
		*n = Int64(v)
		return nil

	case '{':
		var l struct {
			Low      int64 `json:"low"`
			High     int64 `json:"high"`
			Unsigned bool  `json:"unsigned"`
		}
		if err := json.Unmarshal(b, &l); err != nil {
			return err
		}
		*n = Int64(l.High<<32 | (l.Low & 0xffffffff))
		return nil

	default:
		var f json.Number
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		if v, err := f.Int64(); err == nil {
			*n = Int64(v)
			return nil
		}
		v, err := f.Float64()
		if err != nil {
			return err
		}
		*n = Int64(v)
		return nil
	}
}

// Int returns the value as int.
func (n Int64) Int() int { return int(n) }
