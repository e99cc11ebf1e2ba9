package accessfilter

import (
	"testing"

	"github.com/connexus-ai/ragcore/internal/model"
)

func TestBuild_FlatConjunction_NoNesting(t *testing.T) {
	q := model.RetrievalQuery{
		Text: "dual wielding rules",
		User: model.UserContext{
			UserID:             "u1",
			TenantID:           "tenant-a",
			GroupIDs:           []string{"g1", "g2"},
			PreferredLanguages: []string{"es"},
		},
		DocIDFilter: "doc-123",
	}

	f := Build(q)
	conds := f.Conditions()

	if len(conds) != 4 {
		t.Fatalf("expected 4 flat conditions (tenant, acl, language, docId), got %d", len(conds))
	}
	if conds[0].Field != "tenantId" || conds[0].Values[0] != "tenant-a" {
		t.Fatalf("expected tenant clause first, got %+v", conds[0])
	}
	if conds[1].Field != "acl" {
		t.Fatalf("expected acl clause second, got %+v", conds[1])
	}
	if conds[2].Field != "language" {
		t.Fatalf("expected language clause third, got %+v", conds[2])
	}
	if conds[3].Field != "docId" || conds[3].Values[0] != "doc-123" {
		t.Fatalf("expected docId clause fourth, got %+v", conds[3])
	}

	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestAnd_AppendsInPlace_NeverNests(t *testing.T) {
	f := New("tenant-a")
	f.And(Condition{Field: "acl", Op: OpAnyOf, Values: []string{"u1", "public"}})
	f.And(Condition{Field: "docId", Op: OpEquals, Values: []string{"doc-1"}})

	conds := f.Conditions()
	for _, c := range conds {
		for _, v := range c.Values {
			if v == "" {
				t.Fatalf("found empty value in flat condition %+v — suggests nested structure leaking through", c)
			}
		}
	}
	if len(conds) != 3 {
		t.Fatalf("expected exactly 3 top-level conditions, got %d", len(conds))
	}
}

func TestValidateAccess(t *testing.T) {
	user := model.UserContext{UserID: "u1", TenantID: "tenant-a", GroupIDs: []string{"g1"}}

	cases := []struct {
		name string
		p    model.Passage
		want bool
	}{
		{"same tenant, user in acl", model.Passage{Payload: model.Payload{TenantID: "tenant-a", ACL: []string{"u1"}}}, true},
		{"same tenant, group in acl", model.Passage{Payload: model.Payload{TenantID: "tenant-a", ACL: []string{"g1"}}}, true},
		{"same tenant, public", model.Passage{Payload: model.Payload{TenantID: "tenant-a", ACL: []string{"public"}}}, true},
		{"cross tenant", model.Passage{Payload: model.Payload{TenantID: "tenant-b", ACL: []string{"public"}}}, false},
		{"same tenant, acl mismatch", model.Passage{Payload: model.Payload{TenantID: "tenant-a", ACL: []string{"someone-else"}}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateAccess(tc.p, user)
			if got != tc.want {
				t.Errorf("ValidateAccess() = %v, want %v", got, tc.want)
			}
		})
	}
}
