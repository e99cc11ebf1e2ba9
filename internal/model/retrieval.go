package model

import "time"

// UserContext identifies the caller for a query: the authenticated user,
// their tenant, and the groups used for ACL evaluation. TenantID is
// immutable for the lifetime of a request once a Query is constructed.
type UserContext struct {
	UserID             string   `json:"id"`
	TenantID           string   `json:"tenantId"`
	GroupIDs           []string `json:"groupIds"`
	PreferredLanguages []string `json:"preferredLanguages,omitempty"`
	// Tier is the caller's subscription tier (free/starter/professional/
	// enterprise/sovereign), used for usage-limit enforcement. Empty means
	// "free" to the limiter.
	Tier string `json:"tier,omitempty"`
}

// RetrievalQuery is a single retrieval request driving the C1-C12 pipeline.
// Named distinctly from the persisted Query record (query.go), which is the
// audit-facing row describing a query after the fact.
type RetrievalQuery struct {
	ID               string
	Text             string
	User             UserContext
	K                int
	DocIDFilter      string
	Debug            bool
	Streaming        bool
	IncludeMetrics   bool
}

// SearchType names where a passage's score came from.
type SearchType string

const (
	SearchVectorOnly SearchType = "vector_only"
	SearchKeywordOnly SearchType = "keyword_only"
	SearchHybrid      SearchType = "hybrid"
	SearchReranked    SearchType = "reranked"
)

// Payload is the tenant/ACL/provenance envelope carried by every passage.
type Payload struct {
	TenantID    string    `json:"tenantId"`
	DocID       string    `json:"docId"`
	ACL         []string  `json:"acl"`
	Language    string    `json:"language,omitempty"`
	SectionPath string    `json:"sectionPath,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
}

// Passage is a retrieved chunk flowing through the pipeline. Scores are
// never rewritten in place — each stage's contribution is kept in its own
// field, and FinalScore is set once by the stage that currently owns
// ordering (fusion, reranker, or reconstruction).
type Passage struct {
	ID            string
	Content       string
	VectorScore   *float64
	KeywordScore  *float64
	FusedScore    *float64
	RerankerScore *float64
	FinalScore    float64
	SearchType    SearchType
	Payload       Payload
}

// Clone returns a deep-enough copy of the passage (slice fields copied) so
// that events can hold copies rather than aliases into a mutable store.
func (p Passage) Clone() Passage {
	cp := p
	if p.VectorScore != nil {
		v := *p.VectorScore
		cp.VectorScore = &v
	}
	if p.KeywordScore != nil {
		v := *p.KeywordScore
		cp.KeywordScore = &v
	}
	if p.FusedScore != nil {
		v := *p.FusedScore
		cp.FusedScore = &v
	}
	if p.RerankerScore != nil {
		v := *p.RerankerScore
		cp.RerankerScore = &v
	}
	if p.Payload.ACL != nil {
		cp.Payload.ACL = append([]string(nil), p.Payload.ACL...)
	}
	return cp
}

// SectionKey identifies a multi-part section derived from a passage's
// sectionPath, e.g. "block_9/part_0" -> docID + "block_9". It is
// synthesized per request and never persisted.
type SectionKey struct {
	DocID   string
	Section string
}

// FusionTraceEntry is a per-candidate debug record emitted when
// FUSION_DEBUG_TRACE is on.
type FusionTraceEntry struct {
	ID         string             `json:"id"`
	RankVec    *int               `json:"rankVec,omitempty"`
	RankKw     *int               `json:"rankKw,omitempty"`
	NormVec    *float64           `json:"normVec,omitempty"`
	NormKw     *float64           `json:"normKw,omitempty"`
	Strategy   string             `json:"strategy"`
	FusedScore float64            `json:"fusedScore"`
	Components map[string]float64 `json:"components,omitempty"`
}
