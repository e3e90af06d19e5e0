package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is a SQL comparison operator usable in a WHERE clause built
// by BuildListQuery.
type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	Like               ConditionType = "LIKE"
	ILike              ConditionType = "ILIKE"
)

// Condition is one WHERE clause predicate: Field Type $n, bound to Value.
type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

// WhereCond builds an equality/comparison Condition.
func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

// ListQueryOptions configures the query BuildListQuery assembles.
type ListQueryOptions struct {
	Table      string
	Columns    []string
	Conditions []Condition
	OrderBy    string
	OrderDir   string
}

type ListQueryOption func(*ListQueryOptions)

// NewListQueryOptions builds a ListQueryOptions for table, applying opts.
func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{Table: table}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithColumns sets the columns to select, in place of the default "*".
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Columns = cols
	}
}

// WithConditions sets the WHERE predicates, ANDed together.
func WithConditions(conds ...Condition) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Conditions = conds
	}
}

// WithOrderBy sets the ordering column and direction.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.OrderBy = column
		o.OrderDir = direction
	}
}

// sanitizeIdentifier wraps a single string identifier for sanitization.
func sanitizeIdentifier(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// sanitizeQualifiedIdentifier sanitizes qualified identifiers like
// "table.column", quoting each dot-separated part.
func sanitizeQualifiedIdentifier(ident string) string {
	parts := strings.Split(ident, ".")
	return pgx.Identifier(parts).Sanitize()
}

// buildSelectClause generates the SELECT part of the query with sanitized columns.
func buildSelectClause(options *ListQueryOptions) string {
	if options == nil || len(options.Columns) == 0 {
		return "SELECT * "
	}

	cols := make([]string, len(options.Columns))
	for i, col := range options.Columns {
		if strings.Contains(col, ".") {
			cols[i] = sanitizeQualifiedIdentifier(col)
		} else {
			cols[i] = sanitizeIdentifier(col)
		}
	}
	return fmt.Sprintf("SELECT %s ", strings.Join(cols, ", "))
}

// buildOrderClause generates the ORDER BY part with a sanitized column and a
// validated direction.
func buildOrderClause(options *ListQueryOptions) string {
	if options == nil || options.OrderBy == "" {
		return ""
	}

	var clause strings.Builder
	clause.WriteString(" ORDER BY ")
	clause.WriteString(sanitizeQualifiedIdentifier(options.OrderBy))
	if dir := strings.ToUpper(options.OrderDir); dir == "ASC" || dir == "DESC" {
		clause.WriteString(" ")
		clause.WriteString(dir)
	}
	return clause.String()
}

// BuildListQuery constructs a SQL query string and its positional arguments
// from options: SELECT ... FROM ... [WHERE ...] [ORDER BY ...].
//
// Example usage:
//
//	options := NewListQueryOptions("tasks",
//		WithColumns("id", "status"),
//		WithConditions(WhereCond("status", Equal, "PENDING")),
//		WithOrderBy("created_at", "ASC"),
//	)
//	query, args := BuildListQuery(options)
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var query strings.Builder
	query.WriteString(buildSelectClause(options))
	query.WriteString("FROM ")
	query.WriteString(sanitizeIdentifier(options.Table))

	whereClause, args := buildWhereClause(options.Conditions)
	if whereClause != "" {
		query.WriteString(" ")
		query.WriteString(whereClause)
	}
	query.WriteString(buildOrderClause(options))

	return query.String(), args
}

// buildWhereClause generates the WHERE part of the query, sanitizing fields
// and binding each Condition's value to a positional placeholder.
func buildWhereClause(conds []Condition) (string, []any) {
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))

	for i, cond := range conds {
		field := sanitizeIdentifier(cond.Field)
		parts = append(parts, fmt.Sprintf("%s %s $%d", field, cond.Type, i+1))
		args = append(args, cond.Value)
	}

	if len(parts) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(parts, " AND "), args
}
