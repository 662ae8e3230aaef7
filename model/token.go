package model

import (
	"io"
	"unicode"
)

// Token is one analyzed term occurrence.
type Token struct {
	Term        []byte
	StartOffset int
	EndOffset   int
	// PositionIncrement is the distance to the previous token's position.
	// 0 stacks the token on the previous position; the first token of a
	// field lands at PositionIncrement-1.
	PositionIncrement int
	Payload           []byte
}

// TokenStream produces the tokens of a field. Next returns io.EOF when the
// stream is exhausted. Reset rewinds it so the field can be consumed again.
type TokenStream interface {
	Reset() error
	Next() (Token, error)
}

type sliceTokenStream struct {
	tokens []Token
	pos    int
}

// NewTokenStream returns a stream over pre-analyzed tokens.
func NewTokenStream(tokens ...Token) TokenStream {
	return &sliceTokenStream{tokens: tokens}
}

func (s *sliceTokenStream) Reset() error {
	s.pos = 0
	return nil
}

func (s *sliceTokenStream) Next() (Token, error) {
	if s.pos >= len(s.tokens) {
		return Token{}, io.EOF
	}
	t := s.tokens[s.pos]
	s.pos++
	return t, nil
}

// KeywordTokens emits value as a single token.
func KeywordTokens(value string) TokenStream {
	return NewTokenStream(Token{
		Term:              []byte(value),
		EndOffset:         len(value),
		PositionIncrement: 1,
	})
}

// WhitespaceTokens splits text on Unicode white space. Terms are not
// normalized.
func WhitespaceTokens(text string) TokenStream {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Term: []byte(text[start:i]), StartOffset: start, EndOffset: i, PositionIncrement: 1})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Term: []byte(text[start:]), StartOffset: start, EndOffset: len(text), PositionIncrement: 1})
	}
	return NewTokenStream(tokens...)
}

// CollectTokens drains ts after resetting it.
func CollectTokens(ts TokenStream) ([]Token, error) {
	if err := ts.Reset(); err != nil {
		return nil, err
	}
	var out []Token
	for {
		t, err := ts.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
}

