// Package retrieval는 RAG 인덱스의 문서 조각 검색을 제공합니다.
//
// 인덱스는 Okapi BM25로 점수를 매기며 한 번 만들어지면 불변입니다.
// 동시 읽기에 안전합니다.
package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// Passage는 인덱싱 단위입니다.
type Passage struct {
	ID      string
	Content string
	Source  string
}

// Hit은 검색 결과 한 건입니다. Score는 최고 점수 대비 0..1로 정규화됩니다.
type Hit struct {
	Passage Passage
	Score   float64
}

// Index는 BM25 인덱스입니다.
type Index struct {
	passages        []Passage
	termFrequencies []map[string]int
	lengths         []int
	avgLength       float64
	idf             map[string]float64
}

// NewIndex는 passages로 인덱스를 만듭니다.
func NewIndex(passages []Passage) *Index {
	idx := &Index{
		passages:        passages,
		termFrequencies: make([]map[string]int, len(passages)),
		lengths:         make([]int, len(passages)),
		idf:             make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0
	for i, p := range passages {
		tokens := Tokenize(p.Content)
		idx.lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			if tf[tok] == 0 {
				docFreq[tok]++
			}
			tf[tok]++
		}
		idx.termFrequencies[i] = tf
	}

	if len(passages) > 0 {
		idx.avgLength = float64(total) / float64(len(passages))
	}

	n := float64(len(passages))
	for term, df := range docFreq {
		v := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if v <= 0 {
			v = paramEpsilon
		}
		idx.idf[term] = v
	}
	return idx
}

// Len은 인덱싱된 조각 수입니다.
func (idx *Index) Len() int {
	return len(idx.passages)
}

// Search는 query와 관련된 조각을 최대 limit개 반환합니다.
// 토큰이 없거나 일치하는 조각이 없으면 nil입니다.
func (idx *Index) Search(query string, limit int) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 || len(idx.passages) == 0 {
		return nil
	}

	type scored struct {
		i     int
		score float64
	}
	var hits []scored
	for i := range idx.passages {
		if s := idx.score(i, terms); s > 0 {
			hits = append(hits, scored{i: i, score: s})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	top := hits[0].score
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{Passage: idx.passages[h.i], Score: h.score / top}
	}
	return out
}

func (idx *Index) score(i int, terms []string) float64 {
	tf := idx.termFrequencies[i]
	length := float64(idx.lengths[i])

	var score float64
	for _, term := range terms {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		score += idf * (f * (paramK1 + 1)) / (f + paramK1*(1-paramB+paramB*length/idx.avgLength))
	}
	return score
}

// Tokenize는 NFC 정규화 후 소문자 글자/숫자 단위로 분리합니다.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
