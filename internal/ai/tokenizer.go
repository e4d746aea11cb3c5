package ai

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Embedding models reject inputs above this many tokens.
const MaxEmbeddingTokens = 8191

// Tokenizer wraps a cl100k_base encoder for counting and truncation.
// Encoders are expensive to build, so one is shared per process.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	tokenizerOnce sync.Once
	tokenizer     *Tokenizer
	tokenizerErr  error
)

func GetTokenizer() (*Tokenizer, error) {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tokenizerErr = fmt.Errorf("load cl100k_base encoding: %w", err)
			return
		}
		tokenizer = &Tokenizer{enc: enc}
	})
	return tokenizer, tokenizerErr
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens, decoding back so the
// result is always valid UTF-8.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.enc.Decode(ids[:maxTokens])
}
