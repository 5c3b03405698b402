package protocol

import "fmt"

// SyntaxError reports a malformed protocol line.
type SyntaxError struct {
	Line int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("protocol: line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// ConsistencyError reports a protocol that parses but does not hang
// together: count mismatches, unordered steps, missing references.
type ConsistencyError struct {
	Line int
	Msg  string
}

func (e *ConsistencyError) Error() string {
	if e.Line == 0 {
		return "protocol: " + e.Msg
	}
	return fmt.Sprintf("protocol: line %d: %s", e.Line, e.Msg)
}
