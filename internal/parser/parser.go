// Package parser scrapes a user's card collection and public status from
// upstream pages.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/fetch"
	"github.com/atinyakov/cardsync/internal/metrics"
	"github.com/atinyakov/cardsync/internal/models"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// DefaultCardsPerPage is the offset step between card pages.
const DefaultCardsPerPage = 10000

// countSelectors are tried in order; the first one with a numeric text wins.
var countSelectors = []string{
	"span.secondary-text",
	".cards-count",
	".total-cards",
}

// notFoundSelector marks a profile page that is not accessible.
const notFoundSelector = ".not-found"

// Fetcher is the subset of the fetch engine the parser uses.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
	PostForm(ctx context.Context, url string, form url.Values, useAuth bool) (*fetch.Response, error)
	Pause(ctx context.Context) error
}

// URLs holds the upstream endpoints. Paths contain a single %s for the user id.
type URLs struct {
	BaseURL         string
	UserMarketsPath string
	UserCardsPath   string
	CardsLoadPath   string
}

// DefaultURLs returns the production endpoints.
func DefaultURLs() URLs {
	return URLs{
		BaseURL:         "https://mangabuff.ru",
		UserMarketsPath: "/users/%s/markets",
		UserCardsPath:   "/users/%s/cards",
		CardsLoadPath:   "/trades/%s/availableCardsLoad",
	}
}

func (u URLs) userMarkets(userID string) string {
	return strings.TrimRight(u.BaseURL, "/") + fmt.Sprintf(u.UserMarketsPath, url.PathEscape(userID))
}

func (u URLs) userCards(userID string) string {
	return strings.TrimRight(u.BaseURL, "/") + fmt.Sprintf(u.UserCardsPath, url.PathEscape(userID))
}

func (u URLs) cardsLoad(userID string) string {
	return strings.TrimRight(u.BaseURL, "/") + fmt.Sprintf(u.CardsLoadPath, url.PathEscape(userID))
}

// PageHook observes every successfully decoded page, e.g. to dump it to disk.
type PageHook func(userID string, offset int, groups []json.RawMessage, cards []models.CardRecord)

// Parser walks card pages and probes user categories.
type Parser struct {
	fetcher  Fetcher
	urls     URLs
	pageSize int
	log      *zap.Logger
	breaker  *gobreaker.CircuitBreaker[models.Category]
	onPage   PageHook
}

// Option customizes a Parser.
type Option func(*Parser)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) { p.log = l }
}

// WithPageSize sets the offset step between pages.
func WithPageSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithPageHook registers a hook called for each decoded page.
func WithPageHook(h PageHook) Option {
	return func(p *Parser) { p.onPage = h }
}

// New constructs a Parser on top of f.
func New(f Fetcher, urls URLs, opts ...Option) *Parser {
	p := &Parser{
		fetcher:  f,
		urls:     urls,
		pageSize: DefaultCardsPerPage,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = newProbeBreaker(p.log)
	return p
}

// PageOffsets returns 0, pageSize, 2*pageSize, ... strictly below total.
func PageOffsets(total, pageSize int) []int {
	if total <= 0 || pageSize <= 0 {
		return nil
	}
	offsets := make([]int, 0, (total+pageSize-1)/pageSize)
	for off := 0; off < total; off += pageSize {
		offsets = append(offsets, off)
	}
	return offsets
}

// CountCards scrapes the total number of cards a user owns. Transport failures
// are returned as they come from the fetch engine; a page without a usable
// counter fails with apperr.CardCountParseError.
func (p *Parser) CountCards(ctx context.Context, userID string) (int, error) {
	resp, err := p.fetcher.Get(ctx, p.urls.userCards(userID))
	if err != nil {
		return 0, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return 0, &apperr.CardCountParseError{UserID: userID, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	for _, sel := range countSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) || r == ',' {
				return -1
			}
			return r
		}, node.Text())
		if text == "" {
			continue
		}
		n, err := strconv.Atoi(text)
		if err != nil || n < 0 {
			continue
		}
		p.log.Debug("card count found", zap.String("user_id", userID), zap.Int("count", n), zap.String("selector", sel))
		return n, nil
	}

	return 0, &apperr.CardCountParseError{UserID: userID, Reason: "card count element not found or invalid"}
}

// FetchCardsPage loads the raw groups at offset. A single-object payload is a
// one-element page; any other non-list shape, including an undecodable body,
// yields an empty page and a warning.
func (p *Parser) FetchCardsPage(ctx context.Context, userID string, offset int) ([]json.RawMessage, error) {
	form := url.Values{"offset": {strconv.Itoa(offset)}}
	resp, err := p.fetcher.PostForm(ctx, p.urls.cardsLoad(userID), form, true)
	if err != nil {
		return nil, err
	}

	groups, ok, err := splitPage(resp.Body)
	if err != nil {
		p.log.Error("cards page is not valid json",
			zap.String("user_id", userID), zap.Int("offset", offset), zap.Error(err))
		return nil, nil
	}
	if !ok {
		p.log.Warn("unexpected cards page format",
			zap.String("user_id", userID), zap.Int("offset", offset))
		return nil, nil
	}
	return groups, nil
}

// CollectCards walks every card page of a user and returns the accumulated
// records. Only a failed count probe aborts the walk; a page that fails to
// load or extract is logged and left out of the result, so its cards look
// deleted to the caller. Cancellation aborts the walk with an error.
func (p *Parser) CollectCards(ctx context.Context, userID string) ([]models.CardRecord, error) {
	total, err := p.CountCards(ctx, userID)
	if err != nil {
		p.log.Error("failed to determine card count", zap.String("user_id", userID), zap.Error(err))
		return nil, &apperr.CardsParseError{UserID: userID, Reason: "card count", Err: err}
	}

	offsets := PageOffsets(total, p.pageSize)
	p.log.Info("collecting cards",
		zap.String("user_id", userID), zap.Int("total", total), zap.Int("pages", len(offsets)))

	// total is scraped text; it bounds the walk, never an allocation.
	all := []models.CardRecord{}
	for i, offset := range offsets {
		start := time.Now()

		cards, err := p.collectPage(ctx, userID, offset)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, &apperr.CardsParseError{UserID: userID, Reason: "collection interrupted", Err: ctx.Err()}
			}
			metrics.Pages.WithLabelValues("failed").Inc()
			p.log.Warn("failed to process cards page, skipping",
				zap.String("user_id", userID), zap.Int("offset", offset), zap.Error(err))
		case len(cards) == 0:
			metrics.Pages.WithLabelValues("empty").Inc()
			p.log.Warn("empty cards page", zap.String("user_id", userID), zap.Int("offset", offset))
		default:
			metrics.Pages.WithLabelValues("ok").Inc()
			all = append(all, cards...)
			p.log.Info("parsed cards page",
				zap.String("user_id", userID), zap.Int("page", i+1), zap.Int("offset", offset),
				zap.Int("cards", len(cards)), zap.Duration("took", time.Since(start)))
		}

		if i < len(offsets)-1 {
			if err := p.fetcher.Pause(ctx); err != nil {
				return nil, &apperr.CardsParseError{UserID: userID, Reason: "collection interrupted", Err: err}
			}
		}
	}

	p.log.Info("collected cards",
		zap.String("user_id", userID), zap.Int("cards", len(all)), zap.Int("pages", len(offsets)))
	return all, nil
}

func (p *Parser) collectPage(ctx context.Context, userID string, offset int) ([]models.CardRecord, error) {
	groups, err := p.FetchCardsPage(ctx, userID, offset)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	cards, err := ExtractCards(groups)
	if err != nil {
		return nil, err
	}
	if p.onPage != nil {
		p.onPage(userID, offset, groups, cards)
	}
	return cards, nil
}
