package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/accessfilter"
	"github.com/connexus-ai/ragcore/internal/model"
)

// KeywordStore implements orchestrator.KeywordSearcher using PostgreSQL
// full-text search, the same ts_rank_cd/plainto_tsquery idiom as
// BM25Repository (bm25.go), generalized to the accessfilter.Filter
// prefilter contract.
type KeywordStore struct {
	pool *pgxpool.Pool
}

// NewKeywordStore creates a KeywordStore.
func NewKeywordStore(pool *pgxpool.Pool) *KeywordStore {
	return &KeywordStore{pool: pool}
}

// Search runs a full-text search bounded by limit, prefiltered by filter's
// flat conjunction.
func (s *KeywordStore) Search(ctx context.Context, queryText string, limit int, filter *accessfilter.Filter) ([]model.Passage, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("repository.KeywordStore.Search: STORE_BAD_REQUEST: %w", err)
	}

	where, args := whereClauseFromFilter(filter, 2)
	args = append([]any{queryText}, args...)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT dc.id, dc.content,
		       ts_rank_cd(dc.content_tsv, plainto_tsquery('english', $1)) AS rank,
		       dc.tenant_id, dc.document_id, dc.acl, dc.language, dc.section_path,
		       dc.created_at, dc.modified_at, dc.url, dc.title
		FROM document_chunks dc
		WHERE dc.content_tsv @@ plainto_tsquery('english', $1) AND %s
		ORDER BY rank DESC
		LIMIT $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		slog.Error("repository.KeywordStore.Search: query failed", "error", err)
		return nil, fmt.Errorf("repository.KeywordStore.Search: STORE_TIMEOUT: %w", err)
	}
	defer rows.Close()

	var out []model.Passage
	for rows.Next() {
		var p model.Passage
		if err := rows.Scan(
			&p.ID, &p.Content, &p.FinalScore,
			&p.Payload.TenantID, &p.Payload.DocID, &p.Payload.ACL, &p.Payload.Language, &p.Payload.SectionPath,
			&p.Payload.CreatedAt, &p.Payload.ModifiedAt, &p.Payload.URL, &p.Payload.Title,
		); err != nil {
			return nil, fmt.Errorf("repository.KeywordStore.Search: scan: %w", err)
		}
		p.SearchType = model.SearchKeywordOnly
		out = append(out, p)
	}
	return out, nil
}
