package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// Scores is the scorer's verdict for one measurement, keyed by score name.
type Scores map[string]any

// Scorer computes scores for a measurement. The scoring algorithm is external.
type Scorer interface {
	Score(ctx context.Context, m *types.Measurement) (Scores, error)
}

// NopScorer returns empty scores, which derive to no anomaly and no failure.
type NopScorer struct{}

func (NopScorer) Score(context.Context, *types.Measurement) (Scores, error) {
	return Scores{}, nil
}

// HTTPScorer posts the measurement document to a scoring service and reads back a
// JSON object of scores.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPScorer creates an HTTPScorer. A nil client means http.DefaultClient.
func NewHTTPScorer(endpoint string, client *http.Client, logger zerolog.Logger) (*HTTPScorer, error) {
	if endpoint == "" {
		return nil, errors.New("scorer endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScorer{
		endpoint: endpoint,
		client:   client,
		logger:   logger.With().Str("component", "HTTPScorer").Logger(),
	}, nil
}

func (s *HTTPScorer) Score(ctx context.Context, m *types.Measurement) (Scores, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(m.Document))
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request for %s failed: %w", m.UID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scorer returned %s for %s: %s", resp.Status, m.UID, bytes.TrimSpace(body))
	}
	var scores Scores
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("failed to decode scores for %s: %w", m.UID, err)
	}
	if scores == nil {
		scores = Scores{}
	}
	return scores, nil
}
