package filter

import (
	"fmt"
	"strings"
)

const (
	ellipsisConstant               = "..."
	revisionRangeSeparatorConstant = "..."
	excludeSelfMarkerConstant      = "^"
	excludeMarkerConstant          = "!"
)

// FilterSyntaxError reports an invalid filter expression.
type FilterSyntaxError struct {
	Expression string
	Position   int
	Reason     string
}

// Error implements the error interface.
func (syntaxError FilterSyntaxError) Error() string {
	return fmt.Sprintf("invalid filter %q at position %d: %s", syntaxError.Expression, syntaxError.Position, syntaxError.Reason)
}

type parser struct {
	input    string
	position int
}

// Parse converts a filter expression into its syntax tree.
//
//	expression  = [ "!" ] selection
//	selection   = [ "..." [ "^" ] ] core [ [ "^" ] "..." ]
//	core        = "[" revision [ "..." revision ] "]" | "{" path "}" | "./" path | name
func Parse(expression string) (Expression, error) {
	expressionParser := &parser{input: strings.TrimSpace(expression)}
	if len(expressionParser.input) == 0 {
		return nil, expressionParser.fail("empty expression")
	}
	return expressionParser.parseExpression()
}

// ParseAll parses every expression, stopping at the first syntax error.
func ParseAll(expressions []string) ([]Expression, error) {
	parsed := make([]Expression, 0, len(expressions))
	for _, expression := range expressions {
		node, parseError := Parse(expression)
		if parseError != nil {
			return nil, parseError
		}
		parsed = append(parsed, node)
	}
	return parsed, nil
}

func (expressionParser *parser) parseExpression() (Expression, error) {
	if expressionParser.consume(excludeMarkerConstant) {
		inner, innerError := expressionParser.parseSelection()
		if innerError != nil {
			return nil, innerError
		}
		return Exclude{Inner: inner}, nil
	}
	return expressionParser.parseSelection()
}

func (expressionParser *parser) parseSelection() (Expression, error) {
	withDependents := expressionParser.consume(ellipsisConstant)
	dependentsExcludeSelf := withDependents && expressionParser.consume(excludeSelfMarkerConstant)

	core, coreError := expressionParser.parseCore()
	if coreError != nil {
		return nil, coreError
	}

	withDependencies := false
	dependenciesExcludeSelf := false
	switch {
	case expressionParser.consume(excludeSelfMarkerConstant + ellipsisConstant):
		withDependencies = true
		dependenciesExcludeSelf = true
	case expressionParser.consume(ellipsisConstant):
		withDependencies = true
	}

	if !expressionParser.atEnd() {
		return nil, expressionParser.fail(fmt.Sprintf("unexpected %q", expressionParser.input[expressionParser.position:]))
	}
	if withDependents && withDependencies {
		return nil, expressionParser.fail("dependency and dependent expansion cannot be combined")
	}

	switch {
	case withDependents:
		return WithDependents{Inner: core, ExcludeSelf: dependentsExcludeSelf}, nil
	case withDependencies:
		return WithDependencies{Inner: core, ExcludeSelf: dependenciesExcludeSelf}, nil
	default:
		return core, nil
	}
}

func (expressionParser *parser) parseCore() (Expression, error) {
	if expressionParser.atEnd() {
		return nil, expressionParser.fail("missing package selector")
	}

	switch {
	case expressionParser.consume("["):
		content, contentError := expressionParser.readUntil("]")
		if contentError != nil {
			return nil, contentError
		}
		return parseRevision(expressionParser, content)
	case expressionParser.consume("{"):
		content, contentError := expressionParser.readUntil("}")
		if contentError != nil {
			return nil, contentError
		}
		if len(strings.TrimSpace(content)) == 0 {
			return nil, expressionParser.fail("empty path selector")
		}
		return ByPath{Pattern: strings.TrimSpace(content)}, nil
	}

	token := expressionParser.readToken()
	if len(token) == 0 {
		return nil, expressionParser.fail("missing package selector")
	}
	if strings.ContainsAny(token, "[]{}!^ \t") {
		return nil, expressionParser.fail(fmt.Sprintf("invalid package selector %q", token))
	}
	if strings.HasPrefix(token, ".") {
		return ByPath{Pattern: token}, nil
	}
	return ByName{Pattern: token}, nil
}

func parseRevision(expressionParser *parser, content string) (Expression, error) {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, expressionParser.fail("empty revision")
	}
	from, to, isRange := strings.Cut(trimmed, revisionRangeSeparatorConstant)
	if isRange && (len(strings.TrimSpace(from)) == 0 || len(strings.TrimSpace(to)) == 0) {
		return nil, expressionParser.fail("incomplete revision range")
	}
	return ByRevision{From: strings.TrimSpace(from), To: strings.TrimSpace(to)}, nil
}

// readToken consumes a name or path up to a trailing expansion suffix.
func (expressionParser *parser) readToken() string {
	remaining := expressionParser.input[expressionParser.position:]
	tokenLength := len(remaining)
	switch {
	case strings.HasSuffix(remaining, excludeSelfMarkerConstant+ellipsisConstant):
		tokenLength -= len(excludeSelfMarkerConstant + ellipsisConstant)
	case strings.HasSuffix(remaining, ellipsisConstant) && len(remaining) > len(ellipsisConstant):
		tokenLength -= len(ellipsisConstant)
	}
	token := remaining[:tokenLength]
	expressionParser.position += tokenLength
	return token
}

func (expressionParser *parser) readUntil(terminator string) (string, error) {
	remaining := expressionParser.input[expressionParser.position:]
	terminatorIndex := strings.Index(remaining, terminator)
	if terminatorIndex < 0 {
		return "", expressionParser.fail(fmt.Sprintf("missing closing %q", terminator))
	}
	expressionParser.position += terminatorIndex + len(terminator)
	return remaining[:terminatorIndex], nil
}

func (expressionParser *parser) consume(literal string) bool {
	if strings.HasPrefix(expressionParser.input[expressionParser.position:], literal) {
		expressionParser.position += len(literal)
		return true
	}
	return false
}

func (expressionParser *parser) atEnd() bool {
	return expressionParser.position >= len(expressionParser.input)
}

func (expressionParser *parser) fail(reason string) error {
	return FilterSyntaxError{Expression: expressionParser.input, Position: expressionParser.position, Reason: reason}
}
