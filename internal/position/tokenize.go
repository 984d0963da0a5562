package position

import (
	"strings"
	"unicode"
)

// Tokenize extracts SAN move tokens from raw move text.
//
// It accepts bare SAN ("e4 e5 Nf3") as well as full PGN: tag pairs,
// {comments}, ;line comments, (variations), $NAGs, move numbers ("12." and
// "12..."), and result markers are dropped. Trailing annotation glyphs
// (!, ?) are stripped; check and mate suffixes are kept.
func Tokenize(moveText string) []string {
	var (
		out   []string
		field strings.Builder
		depth int // variation nesting
	)

	emit := func() {
		if field.Len() == 0 {
			return
		}
		tok := field.String()
		field.Reset()
		if depth > 0 {
			return
		}
		if tok = normalizeToken(tok); tok != "" {
			out = append(out, tok)
		}
	}

	runes := []rune(moveText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '[' && field.Len() == 0:
			// Tag pair: skip to the closing bracket.
			for i < len(runes) && runes[i] != ']' {
				i++
			}
		case r == '{':
			emit()
			for i < len(runes) && runes[i] != '}' {
				i++
			}
		case r == ';':
			emit()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '(':
			emit()
			depth++
		case r == ')':
			emit()
			if depth > 0 {
				depth--
			}
		case unicode.IsSpace(r):
			emit()
		default:
			field.WriteRune(r)
		}
	}
	emit()

	return out
}

// normalizeToken turns one whitespace-delimited field into a SAN move, or ""
// if the field is not a move.
func normalizeToken(tok string) string {
	if tok == "" || tok[0] == '$' {
		return ""
	}
	switch tok {
	case "1-0", "0-1", "1/2-1/2", "½-½", "*":
		return ""
	}

	// "12." / "12..." / "12...Nf6" / "12.e4"
	if i := strings.IndexFunc(tok, func(r rune) bool { return !unicode.IsDigit(r) }); i > 0 && tok[i] == '.' {
		tok = strings.TrimLeft(tok[i:], ".")
	} else if i < 0 {
		// All digits: a move number without a dot.
		return ""
	}
	if tok == "" {
		return ""
	}

	tok = strings.TrimRight(tok, "!?")
	switch tok {
	case "0-0":
		tok = "O-O"
	case "0-0-0":
		tok = "O-O-O"
	case "0-0+", "0-0#":
		tok = "O-O" + tok[3:]
	case "0-0-0+", "0-0-0#":
		tok = "O-O-O" + tok[5:]
	}
	return tok
}
