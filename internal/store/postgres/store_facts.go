package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	"github.com/jackc/pgx/v5"
)

// --- Fact Methods ---

// factColumns whitelists the columns a lookup may match against.
var factColumns = map[models.FactField]string{
	models.FactFieldKey:    "key",
	models.FactFieldIntent: "intent",
	models.FactFieldQuery:  "query",
}

// findFactTmpl matches rows whose column contains the text. The shortest such
// column is the closest match, then confidence breaks ties.
const findFactTmpl = `-- name: FindFact :one
SELECT id, fact_type, key, value, unit, intent, query, expected, confidence, doc_id, page, context
FROM facts
WHERE approved
  AND fact_type = $1
  AND %[1]s <> ''
  AND strpos(lower(%[1]s), $2) > 0
ORDER BY length(%[1]s) ASC, confidence DESC NULLS LAST
LIMIT 1;
`

func (s *PostgresStore) FindFact(ctx context.Context, factType models.FactType, field models.FactField, text string) (*models.Fact, error) {
	col, ok := factColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported fact field %q", field)
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, store.ErrNotFound
	}

	var f models.Fact
	err := s.db.QueryRow(ctx, fmt.Sprintf(findFactTmpl, col), string(factType), text).Scan(
		&f.ID, &f.FactType, &f.Key, &f.Value, &f.Unit, &f.Intent, &f.Query, &f.Expected,
		&f.Confidence, &f.DocID, &f.Page, &f.Context,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error finding fact: %w", err)
	}
	return &f, nil
}

// --- System Methods ---

const searchSystems = `-- name: SearchSystems :many
SELECT id::text, manufacturer, model, system_norm, subsystem_norm,
       ts_rank(search_tsv, to_tsquery('simple', $1)) AS rank
FROM systems
WHERE search_tsv @@ to_tsquery('simple', $1)
ORDER BY rank DESC, manufacturer, model
LIMIT $2;
`

// SearchSystems ranks equipment records against any of the words in text.
func (s *PostgresStore) SearchSystems(ctx context.Context, text string, limit int) ([]models.SystemRef, error) {
	tsq := orTSQuery(text)
	if tsq == "" || limit <= 0 {
		return []models.SystemRef{}, nil
	}

	rows, err := s.db.Query(ctx, searchSystems, tsq, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying systems: %w", err)
	}
	defer rows.Close()

	items := []models.SystemRef{}
	for rows.Next() {
		var i models.SystemRef
		if err := rows.Scan(&i.ID, &i.Manufacturer, &i.Model, &i.System, &i.Subsystem, &i.Rank); err != nil {
			return nil, fmt.Errorf("error scanning system row: %w", err)
		}
		items = append(items, i)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating system rows: %w", err)
	}
	return items, nil
}

// orTSQuery turns free text into "a | b | c", keeping only letters and digits
// so user input can never break the tsquery syntax.
func orTSQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	terms := make([]string, 0, len(words))
	seen := map[string]bool{}
	for _, w := range words {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return strings.Join(terms, " | ")
}

// --- Seed Import ---

const insertFact = `-- name: InsertFact :exec
INSERT INTO facts (fact_type, key, value, unit, intent, query, expected, confidence, doc_id, page, context)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`

const insertSystem = `-- name: InsertSystem :exec
INSERT INTO systems (manufacturer, model, system_norm, subsystem_norm)
VALUES ($1, $2, $3, $4);
`

// ImportSeed appends every fact and system in seed inside one transaction.
// Rows are not deduplicated; re-running an import duplicates them.
func (s *PostgresStore) ImportSeed(ctx context.Context, seed *store.Seed) error {
	if seed == nil || len(seed.Facts)+len(seed.Systems) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, f := range seed.Facts {
		batch.Queue(insertFact, string(f.FactType), f.Key, f.Value, f.Unit, f.Intent, f.Query,
			f.Expected, f.Confidence, f.DocID, f.Page, f.Context)
	}
	for _, sys := range seed.Systems {
		batch.Queue(insertSystem, sys.Manufacturer, sys.Model, sys.System, sys.Subsystem)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("database error importing seed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing seed import: %w", err)
	}
	s.log.Info("Seed imported", "facts", len(seed.Facts), "systems", len(seed.Systems))
	return nil
}
