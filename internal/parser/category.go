package parser

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/atinyakov/cardsync/internal/metrics"
	"github.com/atinyakov/cardsync/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const probeBreakerName = "category-probe"

func newProbeBreaker(log *zap.Logger) *gobreaker.CircuitBreaker[models.Category] {
	metrics.CircuitBreakerState.WithLabelValues(probeBreakerName).Set(0)

	return gobreaker.NewCircuitBreaker[models.Category](gobreaker.Settings{
		Name:        probeBreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// FetchUserCategory probes the user's public markets page. A page carrying the
// not-found marker means the account is blocked; otherwise it is normal.
// The probe never fails: any error, including an open circuit, falls back to
// normal.
func (p *Parser) FetchUserCategory(ctx context.Context, userID string) models.Category {
	category, err := p.breaker.Execute(func() (models.Category, error) {
		return p.probeCategory(ctx, userID)
	})
	if err != nil {
		metrics.CategoryProbes.WithLabelValues("fallback").Inc()
		p.log.Warn("category probe failed, assuming normal",
			zap.String("user_id", userID), zap.Error(err))
		return models.Normal
	}

	metrics.CategoryProbes.WithLabelValues(string(category)).Inc()
	p.log.Debug("category probed", zap.String("user_id", userID), zap.String("category", string(category)))
	return category
}

func (p *Parser) probeCategory(ctx context.Context, userID string) (models.Category, error) {
	resp, err := p.fetcher.Get(ctx, p.urls.userMarkets(userID))
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("parse markets page: %w", err)
	}

	if doc.Find(notFoundSelector).Length() > 0 {
		return models.Blocked, nil
	}
	return models.Normal, nil
}
