// Package repository persists rubrics fetched from the repertory search service so cases
// can still be built while the service is unreachable.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/domain"
)

// DefaultSearchLimit caps SearchByPath when the caller passes no limit
const DefaultSearchLimit = 50

// RubricRepository handles rubric library persistence
type RubricRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRubricRepository creates a new rubric repository
func NewRubricRepository(db *pgxpool.Pool, logger *logrus.Logger) *RubricRepository {
	return &RubricRepository{
		db:  db,
		log: logger,
	}
}

// SaveRubric inserts or replaces a rubric and its weighted remedies
func (r *RubricRepository) SaveRubric(ctx context.Context, rubric *domain.Rubric) error {
	if rubric == nil {
		return domain.NewValidationError("rubric", "rubric is required", nil)
	}
	if err := rubric.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rubric transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO rubrics (id, full_path)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			full_path = EXCLUDED.full_path,
			updated_at = NOW()`,
		rubric.ID, rubric.FullPath,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"rubric_id": rubric.ID,
			"error":     err,
		}).Error("Failed to upsert rubric")
		return fmt.Errorf("upserting rubric: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM rubric_remedies WHERE rubric_id = $1`, rubric.ID); err != nil {
		return fmt.Errorf("clearing rubric remedies: %w", err)
	}

	batch := &pgx.Batch{}
	for i, link := range rubric.WeightedRemedies {
		batch.Queue(`
			INSERT INTO rubric_remedies (rubric_id, position, remedy_id, name_abbrev, name_long, weight)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rubric.ID, i, link.Remedy.ID, link.Remedy.Abbrev, link.Remedy.LongName, link.Weight,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting rubric remedies: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing rubric: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"rubric_id": rubric.ID,
		"remedies":  len(rubric.WeightedRemedies),
	}).Debug("Rubric saved to library")

	return nil
}

// GetRubric retrieves a rubric by its ID
func (r *RubricRepository) GetRubric(ctx context.Context, id string) (*domain.Rubric, error) {
	var rubric domain.Rubric
	err := r.db.QueryRow(ctx, `SELECT id, full_path FROM rubrics WHERE id = $1`, id).
		Scan(&rubric.ID, &rubric.FullPath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rubric %q: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"rubric_id": id,
			"error":     err,
		}).Error("Failed to get rubric")
		return nil, fmt.Errorf("getting rubric: %w", err)
	}

	links, err := r.loadRemedies(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	rubric.WeightedRemedies = links[id]
	return &rubric, nil
}

// SearchByPath returns rubrics whose path contains fragment, case-insensitively, ordered by path
func (r *RubricRepository) SearchByPath(ctx context.Context, fragment string, limit int) ([]domain.Rubric, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	pattern := "%" + escapeLike(strings.TrimSpace(fragment)) + "%"

	rows, err := r.db.Query(ctx, `
		SELECT id, full_path
		FROM rubrics
		WHERE full_path ILIKE $1
		ORDER BY full_path, id
		LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"fragment": fragment,
			"error":    err,
		}).Error("Failed to search rubric library")
		return nil, fmt.Errorf("searching rubrics: %w", err)
	}
	defer rows.Close()

	var rubrics []domain.Rubric
	var ids []string
	for rows.Next() {
		var rubric domain.Rubric
		if err := rows.Scan(&rubric.ID, &rubric.FullPath); err != nil {
			return nil, fmt.Errorf("scanning rubric row: %w", err)
		}
		rubrics = append(rubrics, rubric)
		ids = append(ids, rubric.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rubric rows: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Rubric{}, nil
	}

	links, err := r.loadRemedies(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rubrics {
		rubrics[i].WeightedRemedies = links[rubrics[i].ID]
	}
	return rubrics, nil
}

// Delete removes a rubric and its remedies from the library
func (r *RubricRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM rubrics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting rubric: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("rubric %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *RubricRepository) loadRemedies(ctx context.Context, ids []string) (map[string][]domain.WeightedRemedyLink, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rubric_id, remedy_id, name_abbrev, name_long, weight
		FROM rubric_remedies
		WHERE rubric_id = ANY($1)
		ORDER BY rubric_id, position`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("loading rubric remedies: %w", err)
	}
	defer rows.Close()

	links := make(map[string][]domain.WeightedRemedyLink, len(ids))
	for rows.Next() {
		var rubricID string
		var link domain.WeightedRemedyLink
		if err := rows.Scan(&rubricID, &link.Remedy.ID, &link.Remedy.Abbrev, &link.Remedy.LongName, &link.Weight); err != nil {
			return nil, fmt.Errorf("scanning rubric remedy row: %w", err)
		}
		links[rubricID] = append(links[rubricID], link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rubric remedy rows: %w", err)
	}
	for _, id := range ids {
		if links[id] == nil {
			links[id] = []domain.WeightedRemedyLink{}
		}
	}
	return links, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
