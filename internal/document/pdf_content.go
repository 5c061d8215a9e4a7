package document

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// decodeContentStream recovers readable text from a page content stream.
// Only the text-showing and text-positioning operators are interpreted;
// multi-byte CID font encodings are not mapped back to Unicode.
func decodeContentStream(raw []byte) string {
	lx := &contentLexer{src: raw}
	sink := &textSink{}
	operands := make([]contentToken, 0, 8)
	fontSize := 12.0

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			if s, ok := lastOfKind(operands, tokString); ok {
				sink.text(s.text)
			}
		case "'", `"`:
			sink.newline(false)
			if s, ok := lastOfKind(operands, tokString); ok {
				sink.text(s.text)
			}
		case "TJ":
			if arr, ok := lastOfKind(operands, tokArray); ok {
				for _, el := range arr.elems {
					switch el.kind {
					case tokString:
						sink.text(el.text)
					case tokNumber:
						// Large negative adjustments move right by about a space.
						if el.num < -200 {
							sink.space()
						}
					}
				}
			}
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].kind == tokNumber {
				tx, ty := operands[len(operands)-2].num, operands[len(operands)-1].num
				switch {
				case ty != 0:
					sink.newline(math.Abs(ty) > 1.8*fontSize)
				case tx > 0:
					sink.space()
				}
			}
		case "T*":
			sink.newline(false)
		case "Tf":
			if n, ok := lastOfKind(operands, tokNumber); ok && n.num > 0 {
				fontSize = n.num
			}
		case "ET":
			sink.newline(false)
		case "ID":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}
	return strings.TrimSpace(string(sink.buf))
}

func lastOfKind(tokens []contentToken, kind tokenKind) (contentToken, bool) {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i].kind == kind {
			return tokens[i], true
		}
	}
	return contentToken{}, false
}

type textSink struct {
	buf []byte
}

func (s *textSink) text(t string) {
	s.buf = append(s.buf, t...)
}

func (s *textSink) space() {
	if n := len(s.buf); n > 0 && s.buf[n-1] != ' ' && s.buf[n-1] != '\n' {
		s.buf = append(s.buf, ' ')
	}
}

func (s *textSink) newline(blank bool) {
	for len(s.buf) > 0 && s.buf[len(s.buf)-1] == ' ' {
		s.buf = s.buf[:len(s.buf)-1]
	}
	if len(s.buf) == 0 {
		return
	}
	endsNL := bytes.HasSuffix(s.buf, []byte("\n"))
	endsBlank := bytes.HasSuffix(s.buf, []byte("\n\n"))
	switch {
	case blank && endsBlank, !blank && endsNL:
		return
	case blank && endsNL:
		s.buf = append(s.buf, '\n')
	case blank:
		s.buf = append(s.buf, '\n', '\n')
	default:
		s.buf = append(s.buf, '\n')
	}
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokArray
	tokArrayEnd
	tokDict
	tokOperator
)

type contentToken struct {
	kind  tokenKind
	text  string
	num   float64
	elems []contentToken
}

type contentLexer struct {
	src []byte
	pos int
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (l *contentLexer) next() (contentToken, bool) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			return contentToken{kind: tokString, text: decodePDFText(l.literal())}, true
		case c == '<':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '<' {
				l.skipDict()
				return contentToken{kind: tokDict}, true
			}
			return contentToken{kind: tokString, text: decodePDFText(l.hex())}, true
		case c == '[':
			l.pos++
			arr := contentToken{kind: tokArray}
			for {
				el, ok := l.next()
				if !ok || el.kind == tokArrayEnd {
					break
				}
				arr.elems = append(arr.elems, el)
			}
			return arr, true
		case c == ']':
			l.pos++
			return contentToken{kind: tokArrayEnd}, true
		case c == '/':
			l.pos++
			return contentToken{kind: tokName, text: l.regular()}, true
		case c == '>' || c == '{' || c == '}' || c == ')':
			l.pos++
		default:
			word := l.regular()
			if n, err := strconv.ParseFloat(word, 64); err == nil {
				return contentToken{kind: tokNumber, num: n, text: word}, true
			}
			return contentToken{kind: tokOperator, text: word}, true
		}
	}
	return contentToken{}, false
}

func (l *contentLexer) regular() string {
	start := l.pos
	for l.pos < len(l.src) && !isPDFSpace(l.src[l.pos]) && !isPDFDelim(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

// literal reads a (...) string, handling nesting and escapes.
func (l *contentLexer) literal() []byte {
	l.pos++ // (
	out := make([]byte, 0, 32)
	depth := 1
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.src) {
				return out
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.pos < len(l.src) && l.src[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
					v = v*8 + int(l.src[l.pos]-'0')
					l.pos++
				}
				out = append(out, byte(v))
			default:
				out = append(out, e)
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func (l *contentLexer) hex() []byte {
	l.pos++ // <
	digits := make([]byte, 0, 32)
	for l.pos < len(l.src) && l.src[l.pos] != '>' {
		c := l.src[l.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return out
}

func (l *contentLexer) skipDict() {
	depth := 0
	for l.pos+1 < len(l.src) {
		switch {
		case l.src[l.pos] == '<' && l.src[l.pos+1] == '<':
			depth++
			l.pos += 2
		case l.src[l.pos] == '>' && l.src[l.pos+1] == '>':
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
		case l.src[l.pos] == '(':
			l.literal()
		default:
			l.pos++
		}
	}
	l.pos = len(l.src)
}

// skipInlineImage advances past binary inline image data up to "EI".
func (l *contentLexer) skipInlineImage() {
	for i := l.pos; i+1 < len(l.src); i++ {
		if l.src[i] != 'E' || l.src[i+1] != 'I' {
			continue
		}
		before := i == 0 || isPDFSpace(l.src[i-1])
		after := i+2 >= len(l.src) || isPDFSpace(l.src[i+2])
		if before && after {
			l.pos = i + 2
			return
		}
	}
	l.pos = len(l.src)
}

// decodePDFText decodes UTF-16BE strings with a BOM and treats anything
// else as a single-byte encoding.
func decodePDFText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		units := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' {
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
