package resolver

import "strings"

// TokenKind distinguishes literal SQL text from placeholders.
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenPlaceholder
)

// Token is one segment of a SQL template.
type Token struct {
	Kind TokenKind
	// Text is the literal SQL, or the raw placeholder including braces.
	Text string
	// Name is the placeholder identifier. Empty for literals.
	Name string
}

// Tokenize splits a template into literal and {{identifier}} segments.
// Braces that do not enclose a valid identifier stay literal text.
func Tokenize(template string) []Token {
	var tokens []Token
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenLiteral, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(template); {
		if strings.HasPrefix(template[i:], "{{") {
			end := strings.Index(template[i+2:], "}}")
			if end >= 0 {
				inner := template[i+2 : i+2+end]
				name := strings.TrimSpace(inner)
				if isIdentifier(name) {
					flush()
					raw := template[i : i+2+end+2]
					tokens = append(tokens, Token{Kind: TokenPlaceholder, Text: raw, Name: name})
					i += len(raw)
					continue
				}
			}
		}
		lit.WriteByte(template[i])
		i++
	}
	flush()
	return tokens
}

// Placeholders returns the distinct placeholder names in order of first appearance.
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, tok := range Tokenize(template) {
		if tok.Kind == TokenPlaceholder && !seen[tok.Name] {
			seen[tok.Name] = true
			names = append(names, tok.Name)
		}
	}
	return names
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
