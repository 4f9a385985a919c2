package process

import (
	"errors"
	"strings"
)

// ErrUnclosedQuote is returned by SplitCommand for unbalanced quotes.
var ErrUnclosedQuote = errors.New("unclosed quote in command")

// SplitCommand tokenizes a command line into argv without invoking a shell.
// Single quotes are literal, double quotes honor backslash escapes and
// unquoted whitespace separates arguments.
func SplitCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		inArg   bool
	)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inArg = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}

	if quote != 0 {
		return nil, ErrUnclosedQuote
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}
