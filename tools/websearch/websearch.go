package websearch

import (
	"context"
	"errors"

	"github.com/prismlab/prism/tools/websearch/brave"
	"github.com/prismlab/prism/tools/websearch/models"
	"github.com/prismlab/prism/tools/websearch/serper"
)

// Searcher discovers web results for a query.
type Searcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

func NewSearcher(provider Provider, apiKey string) (Searcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
