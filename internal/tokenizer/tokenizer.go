// Package tokenizer splits text into the normalized tokens the index counts.
//
// A token is a maximal run of numeric characters, a maximal run of letters and
// digits with ASCII letters folded to upper case, or a single character that is neither a letter,
// a digit nor whitespace. Whitespace only separates tokens.
package tokenizer

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer is a single forward pass over its input. It is not restartable.
type Lexer struct {
	src string
	pos int
}

func New(text string) *Lexer {
	return &Lexer{src: text}
}

// Next returns the next token, or false once the input is exhausted.
func (l *Lexer) Next() (string, bool) {
	l.trimLeft()
	if l.pos >= len(l.src) {
		return "", false
	}

	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	switch {
	case unicode.IsNumber(r):
		return l.chopWhile(unicode.IsNumber), true
	case isAlphanumeric(r):
		return asciiUpper(l.chopWhile(isAlphanumeric)), true
	default:
		return l.chop(size), true
	}
}

func (l *Lexer) trimLeft() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *Lexer) chop(n int) string {
	token := l.src[l.pos : l.pos+n]
	l.pos += n
	return token
}

func (l *Lexer) chopWhile(pred func(rune) bool) string {
	n := 0
	for l.pos+n < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos+n:])
		if !pred(r) {
			break
		}
		n += size
	}
	return l.chop(n)
}

// asciiUpper folds a-z only. Other letters keep their case.
func asciiUpper(s string) string {
	return strings.Map(func(r rune) rune {
		if 'a' <= r && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, s)
}

func isAlphanumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Tokens lazily yields the tokens of text.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		l := New(text)
		for {
			tok, ok := l.Next()
			if !ok || !yield(tok) {
				return
			}
		}
	}
}

// Tokenize collects every token of text. Prefer Tokens for large inputs.
func Tokenize(text string) []string {
	var out []string
	for tok := range Tokens(text) {
		out = append(out, tok)
	}
	return out
}
