// Package fulltext is the searchable-by-text side of the corpus: a
// per-field (title, body, tags) inverted index with BM25F scoring. It
// adapts the teacher's pkg/qgram document/postings shape (map[term]map[id]
// occurrence, incremental corpus stats, RemoveDocument) and pkg/resorank's
// BM25F math (CalculateIDF, NormalizedTermFrequency, Saturate) — but
// indexes whole normalized words instead of q-grams, since outline titles
// and bodies are natural-language prose rather than the entity aliases
// GoKitt's q-gram index was built for, and normalizes them by stripping
// stopwords the way search engines commonly do.
package fulltext

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"github.com/outlinegraph/outlined/pkg/outline"
)

// fieldWeight mirrors the teacher's FieldParams table: titles count for
// more than body text, tags for less (they're exact labels, not prose).
var fieldWeight = map[string]float64{
	"title": 3.0,
	"body":  1.0,
	"tags":  1.5,
}

const bm25K1 = 1.2
const bm25B = 0.75

type occurrence struct {
	tf       int
	fieldLen int
}

type posting struct {
	fields map[string]occurrence // field -> occurrence
}

type document struct {
	id       outline.NodeID
	fieldLen map[string]int
}

// Index is the corpus-wide inverted index. Safe for concurrent readers;
// mutations are expected to come from the single reconciler goroutine but
// take a lock anyway since search runs concurrently with reconciliation.
type Index struct {
	mu sync.RWMutex

	postings map[string]map[outline.NodeID]*posting // term -> id -> posting
	docs     map[outline.NodeID]*document

	totalDocs      int
	totalFieldLens map[string]float64
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		postings:       make(map[string]map[outline.NodeID]*posting),
		docs:           make(map[outline.NodeID]*document),
		totalFieldLens: make(map[string]float64),
	}
}

// AddOrReplace indexes (or re-indexes) one node's title, body, and tags.
func (idx *Index) AddOrReplace(id outline.NodeID, title, body string, tags []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docs[id]; exists {
		idx.removeLocked(id)
	}

	fields := map[string][]string{
		"title": tokenize(title),
		"body":  tokenize(body),
		"tags":  tags,
	}

	doc := &document{id: id, fieldLen: map[string]int{}}
	idx.docs[id] = doc
	idx.totalDocs++

	for field, terms := range fields {
		fieldLen := len(terms)
		doc.fieldLen[field] = fieldLen
		idx.totalFieldLens[field] += float64(fieldLen)

		counts := map[string]int{}
		for _, t := range terms {
			counts[normalizeTerm(t)]++
		}
		for term, tf := range counts {
			if term == "" {
				continue
			}
			byDoc, ok := idx.postings[term]
			if !ok {
				byDoc = map[outline.NodeID]*posting{}
				idx.postings[term] = byDoc
			}
			p, ok := byDoc[id]
			if !ok {
				p = &posting{fields: map[string]occurrence{}}
				byDoc[id] = p
			}
			p.fields[field] = occurrence{tf: tf, fieldLen: fieldLen}
		}
	}
}

// Remove drops a node from the index entirely.
func (idx *Index) Remove(id outline.NodeID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id outline.NodeID) {
	doc, ok := idx.docs[id]
	if !ok {
		return
	}
	for term, byDoc := range idx.postings {
		delete(byDoc, id)
		if len(byDoc) == 0 {
			delete(idx.postings, term)
		}
	}
	for field, l := range doc.fieldLen {
		idx.totalFieldLens[field] -= float64(l)
		if idx.totalFieldLens[field] < 0 {
			idx.totalFieldLens[field] = 0
		}
	}
	delete(idx.docs, id)
	idx.totalDocs--
}

// Hit is one scored search result.
type Hit struct {
	ID    outline.NodeID
	Score float64
}

// Search tokenizes query, scores every node containing at least one query
// term with BM25F, and returns the top `limit` hits ordered by score
// descending, ties broken by ascending node id for determinism.
func (idx *Index) Search(query string, limit int) []Hit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	terms := map[string]bool{}
	for _, t := range tokenize(query) {
		if n := normalizeTerm(t); n != "" {
			terms[n] = true
		}
	}
	if len(terms) == 0 {
		return nil
	}

	avgLen := map[string]float64{}
	if idx.totalDocs > 0 {
		for field, sum := range idx.totalFieldLens {
			avgLen[field] = sum / float64(idx.totalDocs)
		}
	}

	candidates := map[outline.NodeID]bool{}
	for term := range terms {
		for id := range idx.postings[term] {
			candidates[id] = true
		}
	}

	hits := make([]Hit, 0, len(candidates))
	for id := range candidates {
		score := 0.0
		for term := range terms {
			p, ok := idx.postings[term][id]
			if !ok {
				continue
			}
			df := len(idx.postings[term])
			idfVal := idf(float64(idx.totalDocs), df)
			for field, occ := range p.fields {
				weight := fieldWeight[field]
				if weight == 0 {
					weight = 1.0
				}
				al := avgLen[field]
				if al == 0 {
					al = 1
				}
				ntf := normalizedTF(occ.tf, occ.fieldLen, al, bm25B)
				score += weight * idfVal * saturate(ntf, bm25K1)
			}
		}
		if score > 0 {
			hits = append(hits, Hit{ID: id, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// idf is the teacher's CalculateIDF, ln(1 + (N - df + 0.5) / (df + 0.5)).
func idf(totalDocs float64, docFreq int) float64 {
	if docFreq == 0 {
		return 0
	}
	df := float64(docFreq)
	ratio := (totalDocs - df + 0.5) / (df + 0.5)
	if ratio < 0 {
		ratio = 0
	}
	return math.Log(1.0 + ratio)
}

// normalizedTF is the teacher's NormalizedTermFrequency BM25 length norm.
func normalizedTF(tf, fieldLen int, avgFieldLen, b float64) float64 {
	if avgFieldLen <= 0 || tf == 0 {
		return 0
	}
	denom := 1.0 - b + b*(float64(fieldLen)/avgFieldLen)
	if denom <= 0 {
		return 0
	}
	return float64(tf) / denom
}

// saturate is the teacher's BM25 saturation curve.
func saturate(score, k1 float64) float64 {
	if score <= 0 {
		return 0
	}
	if k1 <= 0 {
		return score
	}
	return ((k1 + 1.0) * score) / (k1 + score)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var englishStopwords = stopwords.MustGet("en")

func normalizeTerm(term string) string {
	lower := strings.ToLower(term)
	if lower == "" || englishStopwords.Contains(lower) {
		return ""
	}
	return lower
}
