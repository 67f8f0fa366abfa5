// Package sql holds the SQL template handling used by the executor: the
// directive-aware placeholder processor, bind value coercion, placeholder
// rebinding for native driver syntax and template validation.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the template contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrUnterminatedLiteral indicates a quote that is never closed.
	ErrUnterminatedLiteral = errors.New("unterminated string literal")
)

// NormalizeTemplate trims a stored SQL template, drops one trailing semicolon
// and rejects templates that stack statements. An empty template is valid and
// means "action not supported".
func NormalizeTemplate(template string) (string, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return "", nil
	}

	template = strings.TrimRight(template, " \t\n\r")
	if strings.HasSuffix(template, ";") {
		template = strings.TrimRight(strings.TrimSuffix(template, ";"), " \t\n\r")
	}

	if err := checkSingleStatement(template); err != nil {
		return "", err
	}
	return template, nil
}

// checkSingleStatement scans for a semicolon outside literals and comments.
func checkSingleStatement(template string) error {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch state {
		case stateNormal:
			switch {
			case c == ';':
				return ErrMultipleStatements
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '-' && i+1 < len(template) && template[i+1] == '-':
				state = stateLineComment
				i++
			case c == '/' && i+1 < len(template) && template[i+1] == '*':
				state = stateBlockComment
				i++
			}
		case stateSingleQuote:
			// '' re-enters the literal on the next byte
			if c == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(template) && template[i+1] == '/' {
				state = stateNormal
				i++
			}
		}
	}

	if state == stateSingleQuote || state == stateDoubleQuote {
		return ErrUnterminatedLiteral
	}
	return nil
}
