// Package provider defines the contract with the metered third-party keyword
// data provider. The resilience core is agnostic to what the provider
// returns; the payload here is carried through and cached, never interpreted.
package provider

import (
	"context"
	"time"
)

// KeywordData is the provider's response for one query, treated as an opaque
// payload by the resilience layer.
type KeywordData struct {
	Keyword      string           `json:"keyword"`
	SearchVolume int              `json:"search_volume"`
	Difficulty   float64          `json:"difficulty"`
	CPC          float64          `json:"cpc"`
	Related      []RelatedKeyword `json:"related,omitempty"`
	FetchedAt    time.Time        `json:"fetched_at"`
}

// RelatedKeyword is a suggestion returned alongside the main result.
type RelatedKeyword struct {
	Keyword      string `json:"keyword"`
	SearchVolume int    `json:"search_volume"`
}

// KeywordSource is the protected operation contract: one fallible lookup,
// billed per unit by the provider. Implementations must respect ctx and
// carry their own hard timeout so a wrapped call can never block
// indefinitely.
type KeywordSource interface {
	Research(ctx context.Context, query string) (*KeywordData, error)
}
