// Package tokencount estimates prompt token counts for classification and
// CoT budgeting, backed by tiktoken-go.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in raw text using a single default encoding.
// The router only needs an estimate for length-threshold decisions, not
// per-model exactness, so unlike a per-model TiktokenTokenizer it does
// not vary encoding by model name.
type Estimator struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewEstimator returns an Estimator using the cl100k_base encoding, a
// reasonable default for unrecognized models.
func NewEstimator() *Estimator {
	return &Estimator{encoding: "cl100k_base"}
}

func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = err
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// Count returns the estimated token count of text. On tokenizer
// initialization failure it falls back to a conservative length/4
// heuristic rather than failing the (pure, total) classifier contract.
func (e *Estimator) Count(text string) int {
	if err := e.init(); err != nil {
		return fallbackCount(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// CountMessages mirrors the OpenAI chat per-message token overhead
// formula.
func (e *Estimator) CountMessages(contents []string) int {
	if err := e.init(); err != nil {
		total := 0
		for _, c := range contents {
			total += fallbackCount(c) + 4
		}
		return total + 3
	}
	total := 0
	for _, c := range contents {
		total += 4
		total += len(e.enc.Encode(c, nil, nil))
	}
	total += 3
	return total
}

func fallbackCount(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
