package signals

import (
	"context"
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	phttp "TradePilot/pkg/http"
)

// SentimentAdapter queries an external news-sentiment service scoring
// symbols in [0,1]. Above 0.7 reads bullish, below 0.3 bearish.
type SentimentAdapter struct {
	client  *phttp.Client
	baseURL string
	apiKey  string
}

// NewSentimentAdapter creates the adapter against baseURL.
func NewSentimentAdapter(client *phttp.Client, baseURL, apiKey string) *SentimentAdapter {
	return &SentimentAdapter{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (a *SentimentAdapter) Source() models.SignalSource { return models.SourceSentiment }

type sentimentResponse struct {
	Symbol   string  `json:"symbol"`
	Score    float64 `json:"score"`    // 0..1, 0.5 neutral
	Articles int     `json:"articles"` // sample size behind the score
}

func (a *SentimentAdapter) Generate(ctx context.Context, symbol string, tf drepo.Timeframe) (*models.Signal, error) {
	var resp sentimentResponse
	err := a.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodGet,
		URL:    a.baseURL + "/v1/sentiment",
		Headers: map[string]string{
			"X-Api-Key": a.apiKey,
		},
		QueryParams: map[string][]string{
			"symbol": {symbol},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sentiment fetch %s: %w", symbol, err)
	}
	if resp.Articles == 0 {
		return nil, nil // no coverage, no opinion
	}

	direction := models.DirectionHold
	switch {
	case resp.Score > 0.7:
		direction = models.DirectionBuy
	case resp.Score < 0.3:
		direction = models.DirectionSell
	}

	// distance from neutral scales both strength and confidence
	distance := resp.Score - 0.5
	if distance < 0 {
		distance = -distance
	}
	strength := distance * 2

	return &models.Signal{
		Symbol:      symbol,
		Timeframe:   string(tf),
		Source:      models.SourceSentiment,
		Direction:   direction,
		Strength:    strength,
		Confidence:  strength,
		GeneratedAt: time.Now(),
		Rationale:   fmt.Sprintf("sentiment %.2f over %d articles", resp.Score, resp.Articles),
	}, nil
}
