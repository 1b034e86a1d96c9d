// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package rewrite

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Content stream character classes per the PDF syntax rules.

func isPDFSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

type csParser struct {
	data []byte
	pos  int
}

func (p *csParser) eof() bool {
	return p.pos >= len(p.data)
}

func (p *csParser) peek(off int) byte {
	if p.pos+off >= len(p.data) {
		return 0
	}
	return p.data[p.pos+off]
}

func (p *csParser) skipWS() {
	for !p.eof() {
		c := p.data[p.pos]
		if isPDFSpace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for !p.eof() && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		return
	}
}

// readLiteralString consumes a ( ... ) string and returns its decoded
// bytes: backslash escapes, octal codes and balanced nested parens.
func (p *csParser) readLiteralString() []byte {
	p.pos++
	var out []byte
	depth := 1
	for !p.eof() {
		c := p.data[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.eof() {
				return out
			}
			e := p.data[p.pos]
			switch e {
			case 'n':
				out = append(out, '\n')
				p.pos++
			case 'r':
				out = append(out, '\r')
				p.pos++
			case 't':
				out = append(out, '\t')
				p.pos++
			case 'b':
				out = append(out, '\b')
				p.pos++
			case 'f':
				out = append(out, '\f')
				p.pos++
			case '(', ')', '\\':
				out = append(out, e)
				p.pos++
			case '\r':
				// line continuation
				p.pos++
				if !p.eof() && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
				p.pos++
			default:
				if e >= '0' && e <= '7' {
					v := 0
					for k := 0; k < 3 && !p.eof() && p.data[p.pos] >= '0' && p.data[p.pos] <= '7'; k++ {
						v = v*8 + int(p.data[p.pos]-'0')
						p.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
					p.pos++
				}
			}
		case '(':
			depth++
			out = append(out, c)
			p.pos++
		case ')':
			depth--
			p.pos++
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
			p.pos++
		}
	}
	return out
}

// readHexString consumes a < ... > string; odd digit counts get a trailing
// zero.
func (p *csParser) readHexString() []byte {
	p.pos++
	var digits []byte
	for !p.eof() && p.data[p.pos] != '>' {
		c := p.data[p.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		p.pos++
	}
	if !p.eof() {
		p.pos++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		out = append(out, hexVal(digits[i])<<4|hexVal(digits[i+1]))
	}
	return out
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// readName consumes a /Name token, decoding #xx escapes.
func (p *csParser) readName() string {
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.data[p.pos]
		if isPDFSpace(c) || isPDFDelim(c) {
			break
		}
		if c == '#' && p.pos+2 < len(p.data) {
			b.WriteByte(hexVal(p.data[p.pos+1])<<4 | hexVal(p.data[p.pos+2]))
			p.pos += 3
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
	return b.String()
}

func (p *csParser) readNumber() (float64, bool) {
	start := p.pos
	if !p.eof() && (p.data[p.pos] == '+' || p.data[p.pos] == '-') {
		p.pos++
	}
	for !p.eof() && (p.data[p.pos] == '.' || (p.data[p.pos] >= '0' && p.data[p.pos] <= '9')) {
		p.pos++
	}
	f, err := strconv.ParseFloat(string(p.data[start:p.pos]), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (p *csParser) readWord() string {
	start := p.pos
	for !p.eof() && !isPDFSpace(p.data[p.pos]) && !isPDFDelim(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// readDict consumes a << ... >> dictionary verbatim, balancing nesting and
// skipping strings that may contain delimiters.
func (p *csParser) readDict() []byte {
	start := p.pos
	depth := 0
	for !p.eof() {
		c := p.data[p.pos]
		if c == '<' && p.peek(1) == '<' {
			depth++
			p.pos += 2
			continue
		}
		if c == '>' && p.peek(1) == '>' {
			depth--
			p.pos += 2
			if depth == 0 {
				break
			}
			continue
		}
		if c == '(' {
			p.readLiteralString()
			continue
		}
		if c == '<' {
			p.readHexString()
			continue
		}
		p.pos++
	}
	return p.data[start:p.pos]
}

func (p *csParser) readArrayItems() []Arg {
	p.pos++
	var arr []Arg
	for {
		p.skipWS()
		if p.eof() {
			return arr
		}
		c := p.data[p.pos]
		switch {
		case c == ']':
			p.pos++
			return arr
		case c == '(':
			arr = append(arr, Arg{Kind: ArgString, Str: p.readLiteralString()})
		case c == '<' && p.peek(1) == '<':
			arr = append(arr, Arg{Kind: ArgRaw, Raw: p.readDict()})
		case c == '<':
			arr = append(arr, Arg{Kind: ArgString, Str: p.readHexString()})
		case c == '/':
			arr = append(arr, Arg{Kind: ArgName, Name: p.readName()})
		case c == '[':
			arr = append(arr, Arg{Kind: ArgArray, Arr: p.readArrayItems()})
		case isNumberStart(c):
			if f, ok := p.readNumber(); ok {
				arr = append(arr, Arg{Kind: ArgNumber, Num: f})
			} else {
				p.pos++
			}
		default:
			w := p.readWord()
			if w == "" {
				p.pos++
				continue
			}
			arr = append(arr, Arg{Kind: ArgRaw, Raw: []byte(w)})
		}
	}
}

// skipInlineImage advances past the binary payload of a BI ... EI inline
// image and returns the end offset. EI must follow whitespace and be
// followed by whitespace, a delimiter or end of stream.
func (p *csParser) skipInlineImage() int {
	for i := p.pos; i+1 < len(p.data); i++ {
		if p.data[i] != 'E' || p.data[i+1] != 'I' {
			continue
		}
		if i > 0 && !isPDFSpace(p.data[i-1]) {
			continue
		}
		if i+2 < len(p.data) && !isPDFSpace(p.data[i+2]) && !isPDFDelim(p.data[i+2]) {
			continue
		}
		p.pos = i + 2
		return p.pos
	}
	p.pos = len(p.data)
	return p.pos
}

// ParseContentStream tokenizes a decoded page content stream into ops.
// Untouched ops keep their original bytes and round-trip verbatim.
func ParseContentStream(data []byte) []TextOp {
	var ops []TextOp
	var args []Arg
	p := &csParser{data: data}
	opStart := -1
	mark := func(start int) {
		if opStart < 0 {
			opStart = start
		}
	}
	for {
		p.skipWS()
		if p.eof() {
			break
		}
		start := p.pos
		c := p.data[p.pos]
		switch {
		case c == '(':
			mark(start)
			args = append(args, Arg{Kind: ArgString, Str: p.readLiteralString()})
		case c == '<' && p.peek(1) == '<':
			mark(start)
			args = append(args, Arg{Kind: ArgRaw, Raw: p.readDict()})
		case c == '<':
			mark(start)
			args = append(args, Arg{Kind: ArgString, Str: p.readHexString()})
		case c == '/':
			mark(start)
			args = append(args, Arg{Kind: ArgName, Name: p.readName()})
		case c == '[':
			mark(start)
			args = append(args, Arg{Kind: ArgArray, Arr: p.readArrayItems()})
		case c == ']' || c == '{' || c == '}' || c == ')' || c == '>':
			p.pos++
		case isNumberStart(c):
			mark(start)
			if f, ok := p.readNumber(); ok {
				args = append(args, Arg{Kind: ArgNumber, Num: f})
			}
		default:
			w := p.readWord()
			if w == "" {
				p.pos++
				continue
			}
			mark(start)
			if w == "true" || w == "false" || w == "null" {
				args = append(args, Arg{Kind: ArgRaw, Raw: []byte(w)})
				continue
			}
			if w == "BI" {
				end := p.skipInlineImage()
				ops = append(ops, TextOp{Op: "BI", Raw: p.data[opStart:end]})
				args = nil
				opStart = -1
				continue
			}
			ops = append(ops, TextOp{Op: w, Args: args, Raw: p.data[opStart:p.pos]})
			args = nil
			opStart = -1
		}
	}
	return ops
}

// WriteContentStream serializes ops back into content stream bytes.
// Ops with original bytes are emitted verbatim; synthesized ops are built
// from their operands.
func WriteContentStream(ops []TextOp) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		if op.Raw != nil {
			buf.Write(op.Raw)
			buf.WriteByte('\n')
			continue
		}
		for _, a := range op.Args {
			writeArg(&buf, a)
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Op)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func writeArg(buf *bytes.Buffer, a Arg) {
	switch a.Kind {
	case ArgNumber:
		buf.WriteString(formatNumber(a.Num))
	case ArgString:
		writePDFString(buf, a.Str)
	case ArgName:
		buf.WriteByte('/')
		buf.WriteString(a.Name)
	case ArgArray:
		buf.WriteByte('[')
		for i, el := range a.Arr {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeArg(buf, el)
		}
		buf.WriteByte(']')
	case ArgRaw:
		buf.Write(a.Raw)
	}
}

// formatNumber renders a content stream number: plain decimal, no
// exponent, fractions clipped to four places.
func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 4 {
		s = strconv.FormatFloat(f, 'f', 4, 64)
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// writePDFString emits a literal string with the standard escapes; bytes
// outside the printable range go out as octal codes.
func writePDFString(buf *bytes.Buffer, s []byte) {
	buf.WriteByte('(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if c < 0x20 || c >= 0x7F {
				fmt.Fprintf(buf, "\\%03o", c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
}

// Synthesized op constructors used by the rewriter.

func numArg(f float64) Arg {
	return Arg{Kind: ArgNumber, Num: f}
}

func strArg(b []byte) Arg {
	return Arg{Kind: ArgString, Str: b}
}

func nameArg(s string) Arg {
	return Arg{Kind: ArgName, Name: s}
}

func opTf(font string, size float64) TextOp {
	return TextOp{Op: "Tf", Args: []Arg{nameArg(font), numArg(size)}}
}

func opTj(s []byte) TextOp {
	return TextOp{Op: "Tj", Args: []Arg{strArg(s)}}
}

func opTJ(items []Arg) TextOp {
	return TextOp{Op: "TJ", Args: []Arg{{Kind: ArgArray, Arr: items}}}
}

func opTr(mode int) TextOp {
	return TextOp{Op: "Tr", Args: []Arg{numArg(float64(mode))}}
}

func opTStar() TextOp {
	return TextOp{Op: "T*"}
}

func opNum(op string, vals ...float64) TextOp {
	args := make([]Arg, len(vals))
	for i, v := range vals {
		args[i] = numArg(v)
	}
	return TextOp{Op: op, Args: args}
}
