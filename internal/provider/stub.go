package provider

import (
	"context"
	"hash/fnv"
	"strings"
	"time"
)

// StubSource returns deterministic pseudo-data derived from the query. Used
// for local development and demos so the full request path works without
// provider credentials or spend.
type StubSource struct{}

func NewStub() *StubSource {
	return &StubSource{}
}

func (s *StubSource) Research(_ context.Context, query string) (*KeywordData, error) {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	seed := h.Sum32()

	return &KeywordData{
		Keyword:      query,
		SearchVolume: int(seed%90000) + 1000,
		Difficulty:   float64(seed%100) + 0.5,
		CPC:          float64(seed%500) / 100,
		Related: []RelatedKeyword{
			{Keyword: query + " reviews", SearchVolume: int(seed % 9000)},
			{Keyword: "best " + query, SearchVolume: int(seed % 4000)},
		},
		FetchedAt: time.Now(),
	}, nil
}
