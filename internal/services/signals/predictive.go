package signals

import (
	"context"
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	phttp "TradePilot/pkg/http"
)

// PredictiveAdapter queries a model-serving endpoint for the
// probability of upward movement over the timeframe. Above 0.6 reads
// buy, below 0.4 sell.
type PredictiveAdapter struct {
	client  *phttp.Client
	baseURL string
}

// NewPredictiveAdapter creates the adapter against baseURL.
func NewPredictiveAdapter(client *phttp.Client, baseURL string) *PredictiveAdapter {
	return &PredictiveAdapter{client: client, baseURL: baseURL}
}

func (a *PredictiveAdapter) Source() models.SignalSource { return models.SourcePredictive }

type predictionRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type predictionResponse struct {
	Symbol       string  `json:"symbol"`
	ProbUp       float64 `json:"prob_up"` // 0..1
	ModelVersion string  `json:"model_version"`
}

func (a *PredictiveAdapter) Generate(ctx context.Context, symbol string, tf drepo.Timeframe) (*models.Signal, error) {
	var resp predictionResponse
	err := a.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodPost,
		URL:    a.baseURL + "/v1/predict",
		Body:   predictionRequest{Symbol: symbol, Timeframe: string(tf)},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("prediction fetch %s: %w", symbol, err)
	}

	direction := models.DirectionHold
	switch {
	case resp.ProbUp > 0.6:
		direction = models.DirectionBuy
	case resp.ProbUp < 0.4:
		direction = models.DirectionSell
	}

	distance := resp.ProbUp - 0.5
	if distance < 0 {
		distance = -distance
	}
	strength := distance * 2

	return &models.Signal{
		Symbol:      symbol,
		Timeframe:   string(tf),
		Source:      models.SourcePredictive,
		Direction:   direction,
		Strength:    strength,
		Confidence:  strength,
		GeneratedAt: time.Now(),
		Rationale:   fmt.Sprintf("model %s prob_up %.2f", resp.ModelVersion, resp.ProbUp),
	}, nil
}
