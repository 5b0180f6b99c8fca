package schema

import (
	"strings"
	"unicode"
)

// SplitStatements strips comments and splits SurrealQL source on top-level
// semicolons. Quotes and (), {}, [] nesting are honoured so function bodies
// and SIGNIN blocks stay whole. Empty statements are dropped.
func SplitStatements(src string) []string {
	var (
		out   []string
		cur   strings.Builder
		depth int
		quote rune
	)
	runes := []rune(src)
	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		cur.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			cur.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
				continue
			}
			if r == quote {
				quote = 0
			}
			continue
		}

		switch {
		case r == '\'' || r == '"' || r == '`':
			quote = r
			cur.WriteRune(r)
		case r == '-' && peek(runes, i+1) == '-',
			r == '/' && peek(runes, i+1) == '/',
			r == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			cur.WriteRune('\n')
		case r == '/' && peek(runes, i+1) == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && peek(runes, i+1) == '/') {
				i++
			}
			i++
			cur.WriteRune(' ')
		case r == '(' || r == '{' || r == '[':
			depth++
			cur.WriteRune(r)
		case r == ')' || r == '}' || r == ']':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case r == ';' && depth == 0:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func peek(runes []rune, i int) rune {
	if i < len(runes) {
		return runes[i]
	}
	return 0
}

// normalizeSpace collapses whitespace runs outside quotes to one space.
func normalizeSpace(s string) string {
	var (
		b     strings.Builder
		quote rune
		space bool
	)
	runes := []rune(strings.TrimSpace(s))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			b.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			} else if r == quote {
				quote = 0
			}
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteRune(' ')
			space = false
		}
		if r == '\'' || r == '"' || r == '`' {
			quote = r
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokenize splits a normalized statement on spaces at nesting depth zero.
// A parenthesized or braced group stays attached to the token it touches.
func tokenize(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
		depth  int
		angle  int
		quote  rune
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			cur.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			} else if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			quote = r
			cur.WriteRune(r)
		case r == '(' || r == '{' || r == '[':
			depth++
			cur.WriteRune(r)
		case r == ')' || r == '}' || r == ']':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case r == '<' && i > 0 && unicode.IsLetter(runes[i-1]):
			// type parameters such as record<user> or option<string>
			angle++
			cur.WriteRune(r)
		case r == '>' && angle > 0:
			angle--
			cur.WriteRune(r)
		case r == ' ' && depth == 0 && angle == 0:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
