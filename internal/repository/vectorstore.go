package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragcore/internal/accessfilter"
	"github.com/connexus-ai/ragcore/internal/model"
)

// VectorStore implements orchestrator.VectorSearcher against a pgvector
// collection, generalizing ChunkRepo.SimilaritySearch (chunk.go) from a
// bare userID scope to the accessfilter.Filter flat-conjunction contract
// of C4. It assumes document_chunks carries the multi-tenant columns the
// single-tenant teacher schema does not (tenant_id, acl text[], language,
// section_path, url, title, modified_at) — see DESIGN.md for the
// migration this implies.
type VectorStore struct {
	pool *pgxpool.Pool
}

// NewVectorStore creates a VectorStore.
func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

// Search runs a cosine-similarity search bounded by limit, prefiltered by
// filter's flat conjunction. A STORE_BAD_REQUEST-classified error is
// returned if the filter fails validation.
func (s *VectorStore) Search(ctx context.Context, vector []float32, limit int, filter *accessfilter.Filter) ([]model.Passage, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("repository.VectorStore.Search: STORE_BAD_REQUEST: %w", err)
	}

	where, args := whereClauseFromFilter(filter, 2)
	embedding := pgvector.NewVector(vector)
	args = append([]any{embedding}, args...)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT dc.id, dc.content, 1 - (dc.embedding <=> $1::vector) AS similarity,
		       dc.tenant_id, dc.document_id, dc.acl, dc.language, dc.section_path,
		       dc.created_at, dc.modified_at, dc.url, dc.title
		FROM document_chunks dc
		WHERE %s
		ORDER BY dc.embedding <=> $1::vector
		LIMIT $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		slog.Error("repository.VectorStore.Search: query failed", "error", err)
		return nil, fmt.Errorf("repository.VectorStore.Search: STORE_TIMEOUT: %w", err)
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
			return nil, fmt.Errorf("repository.VectorStore.Search: scan: %w", err)
		}
		p.SearchType = model.SearchVectorOnly
		out = append(out, p)
	}
	return out, nil
}

// whereClauseFromFilter translates a flat accessfilter.Filter conjunction
// into a parameterized SQL WHERE clause, starting placeholder numbering at
// startParam. "acl" conditions use array-overlap (&&); every other any_of
// condition uses = ANY(...); eq conditions use plain equality.
func whereClauseFromFilter(filter *accessfilter.Filter, startParam int) (string, []any) {
	conditions := filter.Conditions()
	if len(conditions) == 0 {
		return "true", nil
	}

	clauses := make([]string, 0, len(conditions))
	args := make([]any, 0, len(conditions))
	n := startParam

	for _, c := range conditions {
		column := filterColumn(c.Field)
		switch {
		case c.Field == "acl" && c.Op == accessfilter.OpAnyOf:
			clauses = append(clauses, fmt.Sprintf("dc.%s && $%d::text[]", column, n))
			args = append(args, c.Values)
		case c.Op == accessfilter.OpAnyOf:
			clauses = append(clauses, fmt.Sprintf("dc.%s = ANY($%d::text[])", column, n))
			args = append(args, c.Values)
		default:
			clauses = append(clauses, fmt.Sprintf("dc.%s = $%d", column, n))
			args = append(args, c.Values[0])
		}
		n++
	}

	clause := clauses[0]
	for _, c := range clauses[1:] {
		clause += " AND " + c
	}
	return clause, args
}

// filterColumn maps an accessfilter.Condition field name to its
// document_chunks column, since the filter's field vocabulary (tenantId,
// docId) is wire-facing camelCase while the schema is snake_case.
func filterColumn(field string) string {
	switch field {
	case "tenantId":
		return "tenant_id"
	case "docId":
		return "document_id"
	default:
		return field
	}
}
