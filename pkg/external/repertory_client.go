package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/repertory-sheet-server/internal/domain"
)

// RepertoryClient handles interactions with the repertory search service
type RepertoryClient struct {
	baseURL        string
	apiKey         string
	defaultName    string
	searchLimit    int
	maxConcurrency int
	httpClient     *http.Client
	rateLimit      *rate.Limiter
	fold           cases.Caser
}

// NewRepertoryClient creates a new repertory search client
func NewRepertoryClient(config domain.RepertoryConfig) *RepertoryClient {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 50
	}

	return &RepertoryClient{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		apiKey:         config.APIKey,
		defaultName:    config.DefaultName,
		searchLimit:    config.SearchLimit,
		maxConcurrency: config.MaxConcurrency,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.MaxConcurrency),
		fold:      cases.Fold(),
	}
}

// NormalizeQuery folds case and width so equivalent queries share cache entries
func (c *RepertoryClient) NormalizeQuery(text string) string {
	text = norm.NFKC.String(text)
	text = c.fold.String(text)
	return strings.Join(strings.Fields(text), " ")
}

// SearchRubrics queries rubrics by free text
func (c *RepertoryClient) SearchRubrics(ctx context.Context, query domain.SearchQuery) ([]domain.Rubric, error) {
	text := c.NormalizeQuery(query.Text)
	if text == "" {
		return nil, domain.NewValidationError("q", "search text cannot be empty", query.Text)
	}

	params := url.Values{}
	params.Set("q", text)
	if repertory := c.repertoryName(query); repertory != "" {
		params.Set("repertory", repertory)
	}
	limit := query.Limit
	if limit <= 0 || limit > c.searchLimit {
		limit = c.searchLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	var results []domain.RubricResult
	if err := c.getJSON(ctx, "/rubrics/search?"+params.Encode(), &results); err != nil {
		return nil, fmt.Errorf("rubric search %q failed: %w", text, err)
	}

	rubrics := make([]domain.Rubric, 0, len(results))
	for i, res := range results {
		rubric, err := res.ToRubric()
		if err != nil {
			return nil, fmt.Errorf("search result %d: %w", i, err)
		}
		rubrics = append(rubrics, rubric)
	}

	return rubrics, nil
}

// GetRubric fetches a single rubric by id
func (c *RepertoryClient) GetRubric(ctx context.Context, id string) (*domain.Rubric, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("id", "rubric id cannot be empty", id)
	}

	var result domain.RubricResult
	if err := c.getJSON(ctx, "/rubrics/"+url.PathEscape(id), &result); err != nil {
		return nil, fmt.Errorf("rubric %s: %w", id, err)
	}

	rubric, err := result.ToRubric()
	if err != nil {
		return nil, fmt.Errorf("rubric %s: %w", id, err)
	}
	return &rubric, nil
}

// GetRubrics fetches several rubrics concurrently, preserving the order of ids.
// The first failure cancels the remaining requests.
func (c *RepertoryClient) GetRubrics(ctx context.Context, ids []string) ([]domain.Rubric, error) {
	return fetchAll(ctx, ids, c.maxConcurrency, c.GetRubric)
}

// Ping checks that the search service answers
func (c *RepertoryClient) Ping(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

func (c *RepertoryClient) repertoryName(query domain.SearchQuery) string {
	if query.Repertory != "" {
		return query.Repertory
	}
	return c.defaultName
}

func (c *RepertoryClient) getJSON(ctx context.Context, path string, out interface{}) error {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "repertory-sheet-server/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", domain.ErrExternalService, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d: %s", domain.ErrExternalService, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", domain.ErrExternalService, err)
	}
	return nil
}

// fetchAll runs get for every id with at most limit requests in flight
func fetchAll(ctx context.Context, ids []string, limit int, get func(context.Context, string) (*domain.Rubric, error)) ([]domain.Rubric, error) {
	rubrics := make([]domain.Rubric, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			rubric, err := get(gctx, id)
			if err != nil {
				return err
			}
			rubrics[i] = *rubric
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rubrics, nil
}
