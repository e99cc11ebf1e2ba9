// Package reconstruct implements the section reconstructor (C7): detecting
// fragmented multi-part sections among a candidate set and reassembling
// sibling chunks into a synthetic passage. It fans out bounded concurrent
// store reads via errgroup, the same concurrency idiom the teacher's
// internal/service/retriever.go uses for its vector+BM25 fan-out.
package reconstruct

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/connexus-ai/ragcore/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	// synthesisScorePenalty is subtracted from the max constituent score
	// when building the synthetic passage, so it never strictly dominates a
	// single-purpose chunk with the same score. Per §9(b) this constant is
	// tunable, not a contract.
	synthesisScorePenalty = 0.02
)

// SiblingFetcher fetches the missing sibling parts of a section from the
// store, under the same tenant/ACL prefilter the original candidates were
// retrieved with.
type SiblingFetcher interface {
	FetchSiblings(ctx context.Context, docID, section string, partIndices []int) ([]model.Passage, error)
}

// Config bounds reconstruction fan-out per §4.5.
type Config struct {
	MaxSections      int // R, default 4
	MaxAdditionalParts int // M, default 16
	MaxConcurrentReads int // N, default 4
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{MaxSections: 4, MaxAdditionalParts: 16, MaxConcurrentReads: 4}
}

// sectionRef is a parsed sectionPath split into its section and part index.
type sectionRef struct {
	section string
	part    int
}

// parseSectionPath recognizes "block_X/part_i" style paths. Passages whose
// sectionPath doesn't match this shape are not candidates for
// reconstruction.
func parseSectionPath(path string) (sectionRef, bool) {
	idx := strings.LastIndex(path, "/part_")
	if idx < 0 {
		return sectionRef{}, false
	}
	section := path[:idx]
	n, err := strconv.Atoi(path[idx+len("/part_"):])
	if err != nil {
		return sectionRef{}, false
	}
	return sectionRef{section: section, part: n}, true
}

// Reconstruct detects sections among candidates with more than one
// sibling present, fetches the missing parts (bounded by cfg), and returns
// the synthetic passages to append to the candidate set. Candidates
// themselves are never mutated. Reconstruction never crosses tenant or ACL
// boundaries: synthetic passages inherit the union of constituent ACLs but
// the fetch itself reuses the originating candidates' tenant scope.
func Reconstruct(ctx context.Context, candidates []model.Passage, fetch SiblingFetcher, cfg Config) ([]model.Passage, error) {
	sections := groupBySection(candidates)
	if len(sections) == 0 {
		return nil, nil
	}

	keys := make([]model.SectionKey, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DocID != keys[j].DocID {
			return keys[i].DocID < keys[j].DocID
		}
		return keys[i].Section < keys[j].Section
	})
	if len(keys) > cfg.MaxSections {
		keys = keys[:cfg.MaxSections]
	}

	concurrency := cfg.MaxConcurrentReads
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	synthetics := make([]model.Passage, len(keys))
	partsFetched := 0

	for i, key := range keys {
		i, key := i, key
		present := sections[key]
		missing := missingParts(present, cfg.MaxAdditionalParts-partsFetched)
		partsFetched += len(missing)

		g.Go(func() error {
			if len(missing) == 0 {
				synthetics[i] = buildSynthetic(key, present, nil)
				return nil
			}
			siblings, err := fetch.FetchSiblings(gCtx, key.DocID, key.Section, missing)
			if err != nil {
				// §7: section reconstruction failure skips only the
				// affected section, it is not fatal to the request.
				synthetics[i] = buildSynthetic(key, present, nil)
				return nil
			}
			synthetics[i] = buildSynthetic(key, present, siblings)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconstruct.Reconstruct: %w", err)
	}

	out := make([]model.Passage, 0, len(synthetics))
	for _, s := range synthetics {
		if s.ID != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func groupBySection(candidates []model.Passage) map[model.SectionKey][]model.Passage {
	groups := make(map[model.SectionKey][]model.Passage)
	for _, p := range candidates {
		ref, ok := parseSectionPath(p.Payload.SectionPath)
		if !ok {
			continue
		}
		key := model.SectionKey{DocID: p.Payload.DocID, Section: ref.section}
		groups[key] = append(groups[key], p)
	}
	// Only sections with more than one present part are fragmentary enough
	// to be worth reconstructing.
	for key, parts := range groups {
		if len(parts) < 2 {
			delete(groups, key)
		}
	}
	return groups
}

// missingParts infers the contiguous sibling indices not present in the
// section, bounded by remaining budget.
func missingParts(present []model.Passage, budget int) []int {
	if budget <= 0 {
		return nil
	}
	have := make(map[int]struct{})
	maxPart := 0
	for _, p := range present {
		ref, ok := parseSectionPath(p.Payload.SectionPath)
		if !ok {
			continue
		}
		have[ref.part] = struct{}{}
		if ref.part > maxPart {
			maxPart = ref.part
		}
	}
	var missing []int
	for i := 0; i <= maxPart+1 && len(missing) < budget; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// buildSynthetic assembles present + fetched sibling parts in part order
// into one synthetic passage.
func buildSynthetic(key model.SectionKey, present, fetched []model.Passage) model.Passage {
	all := append(append([]model.Passage(nil), present...), fetched...)
	sort.Slice(all, func(i, j int) bool {
		ri, _ := parseSectionPath(all[i].Payload.SectionPath)
		rj, _ := parseSectionPath(all[j].Payload.SectionPath)
		return ri.part < rj.part
	})

	var content strings.Builder
	maxScore := 0.0
	aclSet := make(map[string]struct{})
	first := all[0]
	for i, p := range all {
		if i > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(p.Content)
		if p.FinalScore > maxScore {
			maxScore = p.FinalScore
		}
		for _, a := range p.Payload.ACL {
			aclSet[a] = struct{}{}
		}
	}
	acl := make([]string, 0, len(aclSet))
	for a := range aclSet {
		acl = append(acl, a)
	}
	sort.Strings(acl)

	payload := first.Payload
	payload.ACL = acl
	payload.SectionPath = key.Section

	return model.Passage{
		ID:         fmt.Sprintf("reconstructed:%s:%s", key.DocID, key.Section),
		Content:    content.String(),
		FinalScore: maxScore - synthesisScorePenalty,
		SearchType: first.SearchType,
		Payload:    payload,
	}
}
