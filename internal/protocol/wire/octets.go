package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Octets is a byte string that travels as a JSON array of integers rather
// than base64, e.g. [104, 105].
type Octets []byte

// MarshalJSON implements json.Marshaler.
func (o Octets) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(o)*4 + 2)
	buf.WriteByte('[')
	for i, b := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(b)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Elements outside 0..255 are
// rejected.
func (o *Octets) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = nil
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("octets: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("octets: element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*o = out
	return nil
}
