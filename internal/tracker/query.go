package tracker

import (
	"fmt"
	"strings"
)

// Expr is one clause of a tracker search query.
type Expr interface {
	render(b *strings.Builder)
}

type eqExpr struct{ field, value string }

func (e eqExpr) render(b *strings.Builder) {
	b.WriteString(e.field)
	b.WriteByte('=')
	b.WriteString(quote(e.value))
}

// Eq matches records where field equals value.
func Eq(field, value string) Expr { return eqExpr{field, value} }

type neExpr struct{ field, value string }

func (e neExpr) render(b *strings.Builder) {
	b.WriteString(e.field)
	b.WriteString("!=")
	b.WriteString(quote(e.value))
}

// Ne matches records where field differs from value.
func Ne(field, value string) Expr { return neExpr{field, value} }

type withinExpr struct {
	field string
	days  int
}

func (e withinExpr) render(b *strings.Builder) {
	fmt.Fprintf(b, "%s >= -%dd", e.field, e.days)
}

// WithinDays matches records where the date field falls inside the last n
// days, rendered in the tracker's relative-date form ("resolved >= -90d").
func WithinDays(field string, days int) Expr { return withinExpr{field, days} }

type andExpr struct{ exprs []Expr }

func (e andExpr) render(b *strings.Builder) {
	for i, x := range e.exprs {
		if i > 0 {
			b.WriteString(" AND ")
		}
		x.render(b)
	}
}

// And joins clauses conjunctively. Nil clauses are skipped.
func And(exprs ...Expr) Expr {
	kept := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return andExpr{kept}
}

// Query is a complete tracker search expression.
type Query struct {
	Expr Expr
}

// String renders the query in the tracker's query language.
func (q Query) String() string {
	if q.Expr == nil {
		return ""
	}
	var b strings.Builder
	q.Expr.render(&b)
	return b.String()
}

// quote wraps values containing whitespace in double quotes.
func quote(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + v + `"`
	}
	return v
}
