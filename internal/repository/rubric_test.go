package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/repertory-sheet-server/internal/database"
	"github.com/repertory-sheet-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/testdb?sslmode=disable"
	migrationRunner, err := database.NewMigrationRunner(databaseURL, "../../migrations", logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}

	if err := migrationRunner.Up(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func anxietyRubric() *domain.Rubric {
	return &domain.Rubric{
		ID:       "kent-mind-anxiety-evening",
		FullPath: "Mind > Anxiety > evening",
		WeightedRemedies: []domain.WeightedRemedyLink{
			{Remedy: domain.Remedy{Abbrev: "Ars.", LongName: "Arsenicum album"}, Weight: 3},
			{Remedy: domain.Remedy{Abbrev: "Phos.", LongName: "Phosphorus"}, Weight: 2},
			{Remedy: domain.Remedy{ID: "r-991", LongName: "Unnamed nosode"}, Weight: 1},
		},
	}
}

func TestRubricRepository_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewRubricRepository(db.Pool, logger)
	ctx := context.Background()

	rubric := anxietyRubric()
	require.NoError(t, repo.SaveRubric(ctx, rubric))

	got, err := repo.GetRubric(ctx, rubric.ID)
	require.NoError(t, err)
	assert.Equal(t, rubric.FullPath, got.FullPath)
	assert.Equal(t, rubric.WeightedRemedies, got.WeightedRemedies, "remedy order and identity survive the round trip")

	// Saving again replaces the remedy list
	rubric.WeightedRemedies = rubric.WeightedRemedies[:1]
	rubric.FullPath = "Mind > Anxiety > evening > bed, in"
	require.NoError(t, repo.SaveRubric(ctx, rubric))

	got, err = repo.GetRubric(ctx, rubric.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mind > Anxiety > evening > bed, in", got.FullPath)
	assert.Len(t, got.WeightedRemedies, 1)
}

func TestRubricRepository_GetRubric_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewRubricRepository(db.Pool, logger)

	_, err := repo.GetRubric(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = repo.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRubricRepository_SaveRubric_RejectsInvalid(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewRubricRepository(db.Pool, logger)

	bad := anxietyRubric()
	bad.WeightedRemedies[0].Weight = 9

	err := repo.SaveRubric(context.Background(), bad)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = repo.GetRubric(context.Background(), bad.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "nothing is written for an invalid rubric")
}

func TestRubricRepository_SearchByPath(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewRubricRepository(db.Pool, logger)
	ctx := context.Background()

	require.NoError(t, repo.SaveRubric(ctx, anxietyRubric()))
	require.NoError(t, repo.SaveRubric(ctx, &domain.Rubric{
		ID:       "kent-mind-anxiety-night",
		FullPath: "Mind > Anxiety > night",
		WeightedRemedies: []domain.WeightedRemedyLink{
			{Remedy: domain.Remedy{Abbrev: "Ars.", LongName: "Arsenicum album"}, Weight: 3},
		},
	}))
	require.NoError(t, repo.SaveRubric(ctx, &domain.Rubric{
		ID:       "kent-generalities-cold-agg",
		FullPath: "Generalities > Cold > agg.",
	}))

	tests := []struct {
		name     string
		fragment string
		limit    int
		wantIDs  []string
	}{
		{"case insensitive", "ANXIETY", 0, []string{"kent-mind-anxiety-evening", "kent-mind-anxiety-night"}},
		{"limit", "anxiety", 1, []string{"kent-mind-anxiety-evening"}},
		{"rubric without remedies", "cold", 0, []string{"kent-generalities-cold-agg"}},
		{"wildcards are literal", "%", 0, nil},
		{"no match", "delusions", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.SearchByPath(ctx, tt.fragment, tt.limit)
			require.NoError(t, err)

			var ids []string
			for _, r := range got {
				ids = append(ids, r.ID)
				assert.NotNil(t, r.WeightedRemedies)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}
