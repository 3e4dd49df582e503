package supervisor

import (
	"bytes"
	"unicode/utf8"
)

// maxEscapeLen bounds how far back an unterminated escape sequence is held. Anything longer
// is not a real sequence and is passed through.
const maxEscapeLen = 256

// chunker turns raw reads into chunks that never end inside an ANSI escape sequence or a
// multi-byte UTF-8 character. The incomplete tail is carried into the next read.
type chunker struct {
	carry []byte
}

func (c *chunker) feed(p []byte) string {
	data := p
	if len(c.carry) > 0 {
		data = append(c.carry, p...)
		c.carry = nil
	}
	complete, rest := splitIncomplete(data)
	if len(rest) > 0 {
		c.carry = append([]byte(nil), rest...)
	}
	return string(complete)
}

// flush returns whatever is still carried, complete or not. Used once the stream ended.
func (c *chunker) flush() string {
	s := string(c.carry)
	c.carry = nil
	return s
}

// splitIncomplete splits data before a trailing incomplete escape sequence or UTF-8 rune.
func splitIncomplete(data []byte) (complete, rest []byte) {
	cut := len(data)
	if i := bytes.LastIndexByte(data, 0x1b); i >= 0 && len(data)-i <= maxEscapeLen {
		if !escapeComplete(data[i:]) {
			cut = i
		}
	}

	tail := data[:cut]
	for back := 1; back <= utf8.UTFMax && back <= len(tail); back++ {
		start := len(tail) - back
		if utf8.RuneStart(tail[start]) {
			if !utf8.FullRune(tail[start:]) {
				cut = start
			}
			break
		}
	}
	return data[:cut], data[cut:]
}

// escapeComplete reports whether seq, which starts with ESC, holds a whole sequence.
func escapeComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}
	switch seq[1] {
	case '[':
		// CSI: parameter and intermediate bytes, then a final byte in 0x40-0x7E.
		for _, b := range seq[2:] {
			if b >= 0x40 && b <= 0x7E {
				return true
			}
		}
		return false
	case ']':
		// OSC: terminated by BEL or ST (ESC \).
		body := seq[2:]
		return bytes.IndexByte(body, 0x07) >= 0 || bytes.Contains(body, []byte{0x1b, '\\'})
	case '(', ')', '*', '+':
		return len(seq) >= 3
	default:
		return true
	}
}
