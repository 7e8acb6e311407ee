// Package model holds the in-memory term-frequency index and its TF-IDF scoring.
//
// A Model is not safe for concurrent use; callers share it behind a single lock
// (see the indexer package).
package model

import (
	"cmp"
	"encoding/json"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/AvengeMedia/dankseek/internal/tokenizer"
)

type TermFreq map[string]int

type Document struct {
	TermFreq     TermFreq  `json:"term_frequency"`
	TotalTokens  int       `json:"total_tokens"`
	LastModified time.Time `json:"last_modified"`
}

type Model struct {
	Documents map[string]*Document `json:"documents"`
	DocFreq   map[string]int       `json:"document_frequency"`
}

// Result is one ranked document. It encodes as a [path, score] JSON pair.
type Result struct {
	Path  string
	Score float64
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Path, r.Score})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &r.Path); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &r.Score)
}

func New() *Model {
	return &Model{
		Documents: make(map[string]*Document),
		DocFreq:   make(map[string]int),
	}
}

// AddDocument replaces whatever is stored at path with a freshly tokenized document.
func (m *Model) AddDocument(path, text string, lastModified time.Time) {
	m.RemoveDocument(path)

	tf := make(TermFreq)
	total := 0
	for tok := range tokenizer.Tokens(text) {
		tf[tok]++
		total++
	}

	for term := range tf {
		m.DocFreq[term]++
	}

	m.Documents[path] = &Document{
		TermFreq:     tf,
		TotalTokens:  total,
		LastModified: lastModified,
	}
}

// RemoveDocument is a no-op for unknown paths. Terms whose document frequency
// drops to zero are deleted from the table.
func (m *Model) RemoveDocument(path string) bool {
	doc, ok := m.Documents[path]
	if !ok {
		return false
	}

	for term := range doc.TermFreq {
		if m.DocFreq[term] <= 1 {
			delete(m.DocFreq, term)
			continue
		}
		m.DocFreq[term]--
	}
	delete(m.Documents, path)
	return true
}

// RequiresReindexing is the only staleness check: unknown paths and documents
// recorded strictly before lastModified need work.
func (m *Model) RequiresReindexing(path string, lastModified time.Time) bool {
	doc, ok := m.Documents[path]
	if !ok {
		return true
	}
	return doc.LastModified.Before(lastModified)
}

func (m *Model) TF(term string, doc *Document) float64 {
	if doc.TotalTokens == 0 {
		return 0
	}
	return float64(doc.TermFreq[term]) / float64(doc.TotalTokens)
}

// IDF floors the document frequency at 1, so absent terms never divide by zero.
func (m *Model) IDF(term string) float64 {
	if len(m.Documents) == 0 {
		return 0
	}
	df := max(m.DocFreq[term], 1)
	return math.Log10(float64(len(m.Documents)) / float64(df))
}

// Search scores every document against query and returns all of them, best first.
// Ties are broken by path so the order is stable for a given index state.
func (m *Model) Search(query string) []Result {
	type weighted struct {
		term string
		idf  float64
	}
	var terms []weighted
	for tok := range tokenizer.Tokens(query) {
		terms = append(terms, weighted{term: tok, idf: m.IDF(tok)})
	}

	results := make([]Result, 0, len(m.Documents))
	for path, doc := range m.Documents {
		var score float64
		for _, t := range terms {
			score += m.TF(t.term, doc) * t.idf
		}
		results = append(results, Result{Path: path, Score: score})
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return results
}

func (m *Model) Len() int {
	return len(m.Documents)
}

func (m *Model) Terms() int {
	return len(m.DocFreq)
}

func (m *Model) TotalTokens() int {
	total := 0
	for _, doc := range m.Documents {
		total += doc.TotalTokens
	}
	return total
}

// Rebuild recomputes every document's token total and the document-frequency
// table from the stored term frequencies. It reports whether anything changed,
// which only happens for a model decoded from an inconsistent snapshot.
func (m *Model) Rebuild() bool {
	if m.Documents == nil {
		m.Documents = make(map[string]*Document)
	}

	changed := false
	df := make(map[string]int)
	for path, doc := range m.Documents {
		if doc == nil {
			delete(m.Documents, path)
			changed = true
			continue
		}
		if doc.TermFreq == nil {
			doc.TermFreq = make(TermFreq)
		}
		total := 0
		for term, n := range doc.TermFreq {
			if n <= 0 {
				delete(doc.TermFreq, term)
				changed = true
				continue
			}
			total += n
			df[term]++
		}
		if total != doc.TotalTokens {
			doc.TotalTokens = total
			changed = true
		}
	}

	if len(df) != len(m.DocFreq) {
		changed = true
	} else {
		for term, n := range df {
			if m.DocFreq[term] != n {
				changed = true
				break
			}
		}
	}
	m.DocFreq = df
	return changed
}
