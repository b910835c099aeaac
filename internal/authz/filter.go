// Package authz gates privileged operations on a resolved scope: a
// single-record check (InScope) and its list-query counterpart
// (ToQueryFilter). The two must stay pointwise equivalent — a list
// endpoint may never return a record InScope would deny.
package authz

import (
	"fmt"
	"strings"

	"github.com/djtdigital/jornada/internal/models"
	"github.com/djtdigital/jornada/internal/roles"
)

// GuestTag is the reserved organizational code for registrations with
// no home unit (external/guest sign-ups). It is visible to every
// privileged tier so guest registrations never go unreviewed.
const GuestTag = "CONVIDADO"

// InScope reports whether scope may view or act on a record carrying
// the given organizational tag.
func InScope(tag string, scope models.EffectiveScope) bool {
	switch scope.EffectiveRole {
	case roles.Admin, roles.GerenteDJT:
		return true
	case roles.GerenteDivisao:
		if tag == GuestTag {
			return true
		}
		return scope.DivisionID != "" && strings.HasPrefix(tag, scope.DivisionID)
	case roles.Coordenador:
		if tag == GuestTag {
			return true
		}
		if scope.DivisionID != "" && strings.HasPrefix(tag, scope.DivisionID) {
			return true
		}
		if scope.CoordID != "" && strings.HasPrefix(tag, scope.CoordID) {
			return true
		}
		return scope.TeamID != "" && tag == scope.TeamID
	case roles.LiderEquipe:
		if tag == GuestTag {
			return true
		}
		return scope.TeamID != "" && tag == scope.TeamID
	default:
		return false
	}
}

// FilterExpression is the list-scoping form of a resolved scope. It
// carries both an in-memory predicate (Matches) and a SQL rendering
// (ToSQL) over the same structure, so the repository filter and the
// single-record check cannot drift apart.
type FilterExpression struct {
	All          bool
	DenyAll      bool
	Prefixes     []string
	Exact        []string
	IncludeGuest bool
}

// ToQueryFilter converts a scope into the filter equivalent to InScope.
func ToQueryFilter(scope models.EffectiveScope) FilterExpression {
	switch scope.EffectiveRole {
	case roles.Admin, roles.GerenteDJT:
		return FilterExpression{All: true}
	case roles.GerenteDivisao:
		f := FilterExpression{IncludeGuest: true}
		if scope.DivisionID != "" {
			f.Prefixes = append(f.Prefixes, scope.DivisionID)
		}
		return f
	case roles.Coordenador:
		f := FilterExpression{IncludeGuest: true}
		if scope.DivisionID != "" {
			f.Prefixes = append(f.Prefixes, scope.DivisionID)
		}
		if scope.CoordID != "" {
			f.Prefixes = append(f.Prefixes, scope.CoordID)
		}
		if scope.TeamID != "" {
			f.Exact = append(f.Exact, scope.TeamID)
		}
		return f
	case roles.LiderEquipe:
		f := FilterExpression{IncludeGuest: true}
		if scope.TeamID != "" {
			f.Exact = append(f.Exact, scope.TeamID)
		}
		return f
	default:
		return FilterExpression{DenyAll: true}
	}
}

// Matches applies the filter to one tag in memory.
func (f FilterExpression) Matches(tag string) bool {
	if f.DenyAll {
		return false
	}
	if f.All {
		return true
	}
	if f.IncludeGuest && tag == GuestTag {
		return true
	}
	for _, p := range f.Prefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	for _, e := range f.Exact {
		if tag == e {
			return true
		}
	}
	return false
}

// ToSQL renders the filter as a WHERE fragment over column. Positional
// placeholders start at argOffset+1 so the fragment can be appended to
// a query that already has arguments.
func (f FilterExpression) ToSQL(column string, argOffset int) (string, []any) {
	if f.DenyAll {
		return "FALSE", nil
	}
	if f.All {
		return "TRUE", nil
	}

	var (
		conds []string
		args  []any
	)
	next := func() int { return argOffset + len(args) + 1 }

	if f.IncludeGuest {
		conds = append(conds, fmt.Sprintf("%s = $%d", column, next()))
		args = append(args, GuestTag)
	}
	for _, p := range f.Prefixes {
		conds = append(conds, fmt.Sprintf("%s LIKE $%d || '%%'", column, next()))
		args = append(args, p)
	}
	for _, e := range f.Exact {
		conds = append(conds, fmt.Sprintf("%s = $%d", column, next()))
		args = append(args, e)
	}
	if len(conds) == 0 {
		return "FALSE", nil
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}
