package embeddings

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

// LexicalEncoder is a deterministic BM25-style sparse encoder. Term
// indices come from hashing the normalized token into the uint32 space;
// weights apply BM25 term-frequency saturation with a fixed expected
// document length, so the same text always yields the same vector.
type LexicalEncoder struct {
	k1        float64
	b         float64
	avgDocLen float64
}

func NewLexicalEncoder() *LexicalEncoder {
	return &LexicalEncoder{k1: 1.2, b: 0.75, avgDocLen: 200}
}

var _ SparseEncoder = (*LexicalEncoder)(nil)

func (e *LexicalEncoder) Encode(text string) SparseVector {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	counts := make(map[uint32]float64, len(tokens))
	for _, token := range tokens {
		counts[termIndex(token)]++
	}

	docLen := float64(len(tokens))
	norm := e.k1 * (1 - e.b + e.b*docLen/e.avgDocLen)

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		tf := counts[idx]
		values[i] = float32(tf * (e.k1 + 1) / (tf + norm))
	}

	return SparseVector{Indices: indices, Values: values}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, field := range fields {
		if len(field) >= 2 && !stopwords[field] {
			tokens = append(tokens, field)
		}
	}
	return tokens
}

func termIndex(token string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return h.Sum32()
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
}
