package window

// Timestamp is an opaque sample time. Lexical order of the underlying string
// must equal chronological order (RFC 3339 in a fixed zone satisfies this).
type Timestamp string

// After reports whether t is strictly later than o.
func (t Timestamp) After(o Timestamp) bool {
	return t > o
}

// Value is a sample value that may be absent. An absent value is a gap, not zero.
type Value struct {
	V       float64
	Present bool
}

// Of returns a present value.
func Of(v float64) Value {
	return Value{V: v, Present: true}
}

// Absent returns the gap value.
func Absent() Value {
	return Value{}
}
