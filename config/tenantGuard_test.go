package config

import (
	"context"
	"testing"

	"github.com/mmdatafocus/fees_backend/appctx"
	"github.com/mmdatafocus/fees_backend/utils"
	"gorm.io/gorm/clause"
)

func TestWhereHasSchoolID(t *testing.T) {
	where := clause.Clause{Expression: clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: "student_id = ?"},
		clause.AndConditions{Exprs: []clause.Expression{clause.Eq{Column: clause.Column{Name: "school_id"}, Value: "s"}}},
	}}}
	if !whereHasSchoolID(where) {
		t.Fatalf("expected explicit school_id filter to be detected")
	}
	other := clause.Clause{Expression: clause.Where{Exprs: []clause.Expression{clause.Eq{Column: "id", Value: 1}}}}
	if whereHasSchoolID(other) {
		t.Fatalf("did not expect school_id filter")
	}
	if whereHasSchoolID(clause.Clause{}) {
		t.Fatalf("empty clause has no filter")
	}
}

func TestTenantScopeContext(t *testing.T) {
	ctx := appctx.Set(context.Background(), appctx.ContextKeySchoolId, "school-1")
	if schoolIdFromContext(ctx) != "school-1" {
		t.Fatalf("expected school id from context")
	}
	if shouldBypassTenantScope(ctx) {
		t.Fatalf("plain request must not bypass tenant scope")
	}
	if !shouldBypassTenantScope(utils.SetSkipTenantScopeInContext(ctx, true)) {
		t.Fatalf("internal ops flag must bypass tenant scope")
	}
}
