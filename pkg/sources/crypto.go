package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knakagawa/trendwatch/pkg/trends"
)

const coinGeckoBaseURL = "https://api.coingecko.com"

// cryptoMarket is one CoinGecko market row, reduced to the fields we keep.
type cryptoMarket struct {
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	MarketCapRank int     `json:"market_cap_rank"`
}

// cryptoCurrencies maps a region to the quote currency its page displays.
var cryptoCurrencies = map[string]string{
	"JP": "jpy",
	"US": "usd",
}

// NewCrypto returns the crypto market-cap ranking source. It is served once
// per region because prices are quoted in the region's currency. An empty
// baseURL selects the production endpoint.
func NewCrypto(deps Deps, baseURL string) (trends.Source, error) {
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	client := deps.client()
	limiter := deps.Limiters.Get("crypto")

	fetch := func(ctx context.Context, region string) ([]byte, int, error) {
		currency, ok := cryptoCurrencies[region]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported region %q", region)
		}

		var markets []cryptoMarket
		url := baseURL + "/api/v3/coins/markets?vs_currency=" + currency +
			"&order=market_cap_desc&per_page=20&page=1"
		if err := getJSON(ctx, client, url, &markets); err != nil {
			return nil, 0, err
		}
		if len(markets) == 0 {
			return nil, 0, fmt.Errorf("empty markets response")
		}

		items := make([]trends.Item, 0, len(markets))
		for i, m := range markets {
			rank := m.MarketCapRank
			if rank == 0 {
				rank = i + 1
			}
			items = append(items, trends.Item{
				Rank:  rank,
				Title: m.Name + " (" + strings.ToUpper(m.Symbol) + ")",
				Score: m.CurrentPrice,
			})
		}
		return marshalItems(items)
	}

	return trends.NewCachedSource("crypto", []string{"JP", "US"}, deps.maxAge("crypto", 6*time.Hour),
		deps.Store, limiter, fetch, deps.Logger), nil
}
