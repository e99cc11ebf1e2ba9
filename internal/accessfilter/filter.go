// Package accessfilter builds the store-side prefilter for vector and
// keyword search (C4) and re-verifies results post-hoc. The filter is
// expressed as a flat conjunction of conditions: a tenant clause, an ACL
// disjunction, a language disjunction, and an optional docId clause. The
// builder is append-only until Build is called — wrapping a previously
// built Filter inside a new "must" is structurally impossible with this
// API, which is the point: the system has historically regressed on this
// exact mistake (nesting "must" inside "must"), and the regression is
// tested in filter_test.go.
package accessfilter

import (
	"fmt"

	"github.com/connexus-ai/ragcore/internal/model"
)

// ConditionOp names the comparison a Condition expresses.
type ConditionOp string

const (
	OpEquals   ConditionOp = "eq"
	OpAnyOf    ConditionOp = "any_of"
)

// Condition is a single flat filter clause: Field Op Values.
type Condition struct {
	Field  string
	Op     ConditionOp
	Values []string
}

// Filter is a flat conjunction ("must") of conditions. The zero value is a
// valid, empty filter. New always returns a Filter with the tenant clause
// already present; conditions can only be appended via And, never merged
// from another Filter.
type Filter struct {
	must []Condition
}

// New starts a filter with the hard tenant-isolation clause. This clause is
// never optional and is always first in the conjunction.
func New(tenantID string) *Filter {
	f := &Filter{}
	f.must = append(f.must, Condition{Field: "tenantId", Op: OpEquals, Values: []string{tenantID}})
	return f
}

// And appends a flat condition to the existing must array. It never
// accepts another *Filter — there is intentionally no overload that would
// let a caller nest one filter's must array inside this one's.
func (f *Filter) And(c Condition) *Filter {
	f.must = append(f.must, c)
	return f
}

// WithACL appends the ACL disjunction: acl intersects {userId} ∪ groupIds ∪
// {"public"}.
func (f *Filter) WithACL(userID string, groupIDs []string) *Filter {
	values := append([]string{userID, "public"}, groupIDs...)
	return f.And(Condition{Field: "acl", Op: OpAnyOf, Values: values})
}

// WithLanguage appends a soft language preference disjunction. When strict
// is true the same values are expressed as a conjunction instead (every
// passage must match every preferred language — rarely useful but part of
// the contract). includeEnglishFallback adds "en" to the disjunction.
func (f *Filter) WithLanguage(preferred []string, includeEnglishFallback, strict bool) *Filter {
	if len(preferred) == 0 {
		return f
	}
	values := append([]string(nil), preferred...)
	if includeEnglishFallback {
		values = append(values, "en")
	}
	op := OpAnyOf
	if strict {
		op = OpEquals
	}
	return f.And(Condition{Field: "language", Op: op, Values: values})
}

// WithDocID appends the optional single-document restriction.
func (f *Filter) WithDocID(docID string) *Filter {
	if docID == "" {
		return f
	}
	return f.And(Condition{Field: "docId", Op: OpEquals, Values: []string{docID}})
}

// Conditions returns the flat must array for handing to a store adapter.
// The slice is a copy; mutating it does not affect the Filter.
func (f *Filter) Conditions() []Condition {
	out := make([]Condition, len(f.must))
	copy(out, f.must)
	return out
}

// Validate rejects a filter whose construction was somehow corrupted into a
// nested shape. Since Condition.Values is []string, nesting is structurally
// impossible by construction — Validate exists as a defense-in-depth check
// for callers that build Condition values by hand (e.g. test fixtures)
// rather than exclusively through And/With*.
func (f *Filter) Validate() error {
	for i, c := range f.must {
		if c.Field == "" {
			return fmt.Errorf("accessfilter.Validate: condition %d has empty field", i)
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("accessfilter.Validate: condition %d (%s) has no values", i, c.Field)
		}
	}
	return nil
}

// Build constructs the prefilter for a query's user context and knobs.
func Build(q model.RetrievalQuery) *Filter {
	f := New(q.User.TenantID)
	f.WithACL(q.User.UserID, q.User.GroupIDs)
	f.WithLanguage(q.User.PreferredLanguages, true, false)
	f.WithDocID(q.DocIDFilter)
	return f
}

// ValidateAccess re-checks a single returned passage against the caller's
// identity after the store round-trip. Passages failing this check must be
// dropped and counted as an access anomaly by the caller.
func ValidateAccess(p model.Passage, user model.UserContext) bool {
	if p.Payload.TenantID != user.TenantID {
		return false
	}
	allowed := map[string]struct{}{user.UserID: {}, "public": {}}
	for _, g := range user.GroupIDs {
		allowed[g] = struct{}{}
	}
	for _, principal := range p.Payload.ACL {
		if _, ok := allowed[principal]; ok {
			return true
		}
	}
	return false
}
