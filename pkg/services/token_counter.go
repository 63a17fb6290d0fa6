package services

import (
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultTokenEncoding is the BPE encoding used for schema token counts.
const DefaultTokenEncoding = "cl100k_base"

// TokenCounter counts the tokens a text occupies in a model prompt.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// approxTokenCounter estimates four bytes per token.
type approxTokenCounter struct{}

func (approxTokenCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewTokenCounter loads the named encoding. When it cannot be loaded, for
// example without network access to fetch the ranks, the counter falls
// back to an estimate.
func NewTokenCounter(encoding string, logger *zap.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("Token encoding unavailable, estimating token counts",
			zap.String("encoding", encoding),
			zap.Error(err))
		return approxTokenCounter{}
	}
	return &tiktokenCounter{enc: enc}
}
