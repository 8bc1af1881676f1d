package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repertory-sheet-server/internal/domain"
)

const anxietyJSON = `{
	"rubric": {"id": "kent-1", "fullPath": "Mind > Anxiety > evening"},
	"weightedRemedies": [
		{"remedy": {"nameAbbrev": "Ars.", "nameLong": "Arsenicum album"}, "weight": 3},
		{"remedy": {"nameAbbrev": "Puls.", "nameLong": "Pulsatilla"}, "weight": 2}
	]
}`

func newRepertoryServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/rubrics/search":
			assert.Equal(t, "anxiety evening", r.URL.Query().Get("q"))
			assert.Equal(t, "Kent", r.URL.Query().Get("repertory"))
			w.Write([]byte("[" + anxietyJSON + "]"))
		case r.URL.Path == "/rubrics/kent-1":
			w.Write([]byte(anxietyJSON))
		case strings.HasPrefix(r.URL.Path, "/rubrics/kent-"):
			id := strings.TrimPrefix(r.URL.Path, "/rubrics/")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"rubric":           map[string]string{"id": id, "fullPath": "Generalities > " + id},
				"weightedRemedies": []interface{}{},
			})
		case r.URL.Path == "/rubrics/bad-weight":
			w.Write([]byte(`{"rubric":{"id":"bad-weight","fullPath":"x"},"weightedRemedies":[{"remedy":{"nameAbbrev":"X"},"weight":9}]}`))
		case r.URL.Path == "/rubrics/broken":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream exploded"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestClient(baseURL string) *RepertoryClient {
	return NewRepertoryClient(domain.RepertoryConfig{
		BaseURL:        baseURL,
		DefaultName:    "Kent",
		Timeout:        5 * time.Second,
		RateLimit:      100,
		MaxConcurrency: 4,
	})
}

func TestRepertoryClient_SearchRubrics(t *testing.T) {
	server := newRepertoryServer(t, nil)
	defer server.Close()

	client := newTestClient(server.URL)
	rubrics, err := client.SearchRubrics(context.Background(), domain.SearchQuery{Text: "  ANXIETY   Evening "})
	require.NoError(t, err)
	require.Len(t, rubrics, 1)

	assert.Equal(t, "kent-1", rubrics[0].ID)
	assert.Equal(t, "Mind > Anxiety > evening", rubrics[0].FullPath)
	require.Len(t, rubrics[0].WeightedRemedies, 2)
	assert.Equal(t, "Ars.", rubrics[0].WeightedRemedies[0].Remedy.Abbrev)
	assert.Equal(t, "Arsenicum album", rubrics[0].WeightedRemedies[0].Remedy.LongName)
	assert.Equal(t, 3, rubrics[0].WeightedRemedies[0].Weight)
}

func TestRepertoryClient_SearchRubrics_EmptyQuery(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0")
	_, err := client.SearchRubrics(context.Background(), domain.SearchQuery{Text: "   "})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestRepertoryClient_GetRubric(t *testing.T) {
	server := newRepertoryServer(t, nil)
	defer server.Close()
	client := newTestClient(server.URL)

	tests := []struct {
		name      string
		id        string
		expectErr error
	}{
		{"found", "kent-1", nil},
		{"not found", "missing", domain.ErrNotFound},
		{"weight out of range", "bad-weight", domain.ErrInvalidArgument},
		{"server error", "broken", domain.ErrExternalService},
		{"empty id", " ", domain.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rubric, err := client.GetRubric(context.Background(), tt.id)
			if tt.expectErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, rubric.ID)
		})
	}
}

func TestRepertoryClient_GetRubrics(t *testing.T) {
	server := newRepertoryServer(t, nil)
	defer server.Close()
	client := newTestClient(server.URL)

	ids := []string{"kent-5", "kent-1", "kent-9", "kent-2", "kent-7"}
	rubrics, err := client.GetRubrics(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, rubrics, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, rubrics[i].ID)
	}

	_, err = client.GetRubrics(context.Background(), []string{"kent-1", "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepertoryClient_NormalizeQuery(t *testing.T) {
	client := newTestClient("")
	tests := []struct {
		in       string
		expected string
	}{
		{"Anxiety", "anxiety"},
		{"  fear   of   DEATH ", "fear of death"},
		{"ＡＮＸＩＥＴＹ", "anxiety"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, client.NormalizeQuery(tt.in), tt.in)
	}
}

func TestMemoryCache(t *testing.T) {
	cache, err := NewMemoryCache(2, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	rubric := &domain.Rubric{ID: "kent-1", FullPath: "Mind"}
	require.NoError(t, cache.SetRubric(ctx, rubric, 0))

	got, found, err := cache.GetRubric(ctx, "kent-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Mind", got.FullPath)

	query := domain.SearchQuery{Text: "mind"}
	require.NoError(t, cache.SetSearch(ctx, query, []domain.Rubric{*rubric}, 0))
	results, found, err := cache.GetSearch(ctx, query)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, results, 1)

	// size bound evicts the least recently used entry
	require.NoError(t, cache.SetRubric(ctx, &domain.Rubric{ID: "kent-2"}, 0))
	assert.Equal(t, 2, cache.Len())
	_, found, _ = cache.GetRubric(ctx, "kent-1")
	assert.False(t, found)

	require.NoError(t, cache.SetRubric(ctx, &domain.Rubric{ID: "short"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, found, _ = cache.GetRubric(ctx, "short")
	assert.False(t, found)
}

func TestMemoryCache_CopiesLinks(t *testing.T) {
	cache, err := NewMemoryCache(4, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	links := []domain.WeightedRemedyLink{{Remedy: domain.Remedy{Abbrev: "Ars."}, Weight: 3}}
	query := domain.SearchQuery{Text: "anxiety"}
	require.NoError(t, cache.SetSearch(ctx, query, []domain.Rubric{{ID: "kent-1", WeightedRemedies: links}}, 0))

	links[0].Weight = 5

	first, found, err := cache.GetSearch(ctx, query)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, first[0].WeightedRemedies[0].Weight)

	first[0].WeightedRemedies[0].Remedy.Abbrev = "Phos."

	second, _, err := cache.GetSearch(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, "Ars.", second[0].WeightedRemedies[0].Remedy.Abbrev)
}

func TestResilientRepertoryClient_UsesCache(t *testing.T) {
	var hits int32
	server := newRepertoryServer(t, &hits)
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	cache, err := NewMemoryCache(16, time.Hour)
	require.NoError(t, err)

	client := NewResilientRepertoryClient(newTestClient(server.URL), cache, time.Hour, DefaultCircuitBreakerConfig(), logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rubric, err := client.GetRubric(ctx, "kent-1")
		require.NoError(t, err)
		assert.Equal(t, "kent-1", rubric.ID)
	}
	for i := 0; i < 3; i++ {
		_, err := client.SearchRubrics(ctx, domain.SearchQuery{Text: "Anxiety Evening"})
		require.NoError(t, err)
	}
	_, err = client.SearchRubrics(ctx, domain.SearchQuery{Text: "anxiety   evening"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	require.NoError(t, client.Close())
}

func TestResilientRepertoryClient_OpensBreaker(t *testing.T) {
	var hits int32
	server := newRepertoryServer(t, &hits)
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	client := NewResilientRepertoryClient(newTestClient(server.URL), nil, 0, DefaultCircuitBreakerConfig(), logger)
	ctx := context.Background()

	// unknown rubrics do not count as failures
	for i := 0; i < 5; i++ {
		_, err := client.GetRubric(ctx, "missing")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	}
	assert.Equal(t, gobreaker.StateClosed, client.State())
	assert.Equal(t, uint32(0), client.Counts().TotalFailures)

	client = NewResilientRepertoryClient(newTestClient(server.URL), nil, 0, DefaultCircuitBreakerConfig(), logger)
	for i := 0; i < 3; i++ {
		_, err := client.GetRubric(ctx, "broken")
		assert.True(t, errors.Is(err, domain.ErrExternalService))
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	before := atomic.LoadInt32(&hits)
	_, err := client.GetRubric(ctx, "kent-1")
	assert.True(t, errors.Is(err, domain.ErrExternalService))
	assert.Equal(t, domain.ErrCodeExternalAPI, domain.ErrorCode(err))
	assert.Equal(t, before, atomic.LoadInt32(&hits), "open breaker must not reach the service")
}
