package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
)

// SiblingStore implements reconstruct.SiblingFetcher against the same
// document_chunks table VectorStore and KeywordStore search, fetching the
// exact missing section_path rows by document and part index rather than
// re-running similarity search.
type SiblingStore struct {
	pool *pgxpool.Pool
}

// NewSiblingStore creates a SiblingStore.
func NewSiblingStore(pool *pgxpool.Pool) *SiblingStore {
	return &SiblingStore{pool: pool}
}

// FetchSiblings returns the chunks of docID/section at the given part
// indices. It does not re-apply an access filter: the caller only invokes
// this for sections already present among candidates that passed the
// original tenant/ACL prefilter, so every sibling shares that same
// document's tenant and ACL.
func (s *SiblingStore) FetchSiblings(ctx context.Context, docID, section string, partIndices []int) ([]model.Passage, error) {
	if len(partIndices) == 0 {
		return nil, nil
	}

	paths := make([]string, len(partIndices))
	for i, n := range partIndices {
		paths[i] = fmt.Sprintf("%s/part_%d", section, n)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT dc.id, dc.content, dc.tenant_id, dc.document_id, dc.acl,
		       dc.language, dc.section_path, dc.created_at, dc.modified_at,
		       dc.url, dc.title
		FROM document_chunks dc
		WHERE dc.document_id = $1 AND dc.section_path = ANY($2::text[])`,
		docID, paths)
	if err != nil {
		return nil, fmt.Errorf("repository.SiblingStore.FetchSiblings: STORE_TIMEOUT: %w", err)
	}
	defer rows.Close()

	var out []model.Passage
	for rows.Next() {
		var p model.Passage
		if err := rows.Scan(
			&p.ID, &p.Content,
			&p.Payload.TenantID, &p.Payload.DocID, &p.Payload.ACL, &p.Payload.Language, &p.Payload.SectionPath,
			&p.Payload.CreatedAt, &p.Payload.ModifiedAt, &p.Payload.URL, &p.Payload.Title,
		); err != nil {
			return nil, fmt.Errorf("repository.SiblingStore.FetchSiblings: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
