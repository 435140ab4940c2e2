package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/notification_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DispatchGuardTable      = "notification_dispatches"
	DispatchGuardColumn     = "status"
	DispatchGuardOpenStatus = "queued"
)

// DispatchGuardPlugin keeps terminal dispatch rows immutable by automatically
// scoping every UPDATE on the guarded table to rows still in the open status.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL. Those must include the status filter manually.
// - Writes that do not touch status may bypass via appctx.ContextKeySkipDispatchGuard.
type DispatchGuardPlugin struct {
	table      string
	column     string
	openStatus string
}

func NewDispatchGuardPlugin(table, column, openStatus string) *DispatchGuardPlugin {
	return &DispatchGuardPlugin{table: table, column: column, openStatus: openStatus}
}

func (p *DispatchGuardPlugin) Name() string { return "dispatch_guard" }

func (p *DispatchGuardPlugin) Initialize(db *gorm.DB) error {
	return db.Callback().Update().Before("gorm:update").Register("dispatch_guard:update", p.guardCallback)
}

func (p *DispatchGuardPlugin) guardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if !strings.EqualFold(db.Statement.Table, p.table) {
		return
	}
	ctx := db.Statement.Context
	if ctx != nil && shouldBypassDispatchGuard(ctx) {
		return
	}

	// Don't duplicate an explicit status filter.
	if whereHasColumn(db.Statement.Clauses["WHERE"], p.column) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: p.column},
				Value:  p.openStatus,
			},
		},
	})
}

func shouldBypassDispatchGuard(ctx context.Context) bool {
	if v, ok := ctx.Value(appctx.ContextKeySkipDispatchGuard).(bool); ok && v {
		return true
	}
	return false
}

func whereHasColumn(c clause.Clause, column string) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasColumn(e, column) {
			return true
		}
	}
	return false
}

func exprHasColumn(e clause.Expression, column string) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIs(v.Column, column)
	case clause.Neq:
		return colIs(v.Column, column)
	case clause.IN:
		return colIs(v.Column, column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasColumn(x, column) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasColumn(x, column) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), strings.ToLower(column))
	default:
		return false
	}
}

func colIs(col any, column string) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, column)
	case clause.Column:
		return strings.EqualFold(c.Name, column)
	default:
		return false
	}
}
