package server

import "errors"

// errUnterminatedQuote is reported when a request line ends inside a quoted
// token
var errUnterminatedQuote = errors.New("unterminated quoted token")

// tokenize splits a request line into space-delimited tokens. A token may be
// double-quoted to contain spaces; a doubled quote inside a quoted token
// escapes a literal quote, CSV-style. Runs of unquoted whitespace form a
// single boundary, shell-style; an empty argument needs explicit quoting.
func tokenize(line string) ([]string, error) {
	var tokens []string
	var current []rune
	inToken := false
	inQuote := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuote:
			if r == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					current = append(current, '"')
					i++
					continue
				}
				inQuote = false
				continue
			}
			current = append(current, r)
		case r == '"':
			inQuote = true
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, string(current))
				current = current[:0]
				inToken = false
			}
		default:
			current = append(current, r)
			inToken = true
		}
	}

	if inQuote {
		return nil, errUnterminatedQuote
	}
	if inToken {
		tokens = append(tokens, string(current))
	}
	return tokens, nil
}
