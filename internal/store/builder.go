package store

import (
	"fmt"
	"sort"
	"strings"
)

// rowColumns returns a row's column names in deterministic order so repeated
// runs produce identical statements.
func rowColumns(row map[string]any) []string {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// rowArgs extracts a row's values in column order. Missing keys become NULL.
func rowArgs(row map[string]any, columns []string) []any {
	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = row[col]
	}
	return args
}

// buildInsert renders a multi-row INSERT. With uniqueColumns it adds an
// ON CONFLICT DO NOTHING clause on the natural key so retried batches are
// idempotent; with idColumn it appends RETURNING for generated ids.
func buildInsert(table string, columns []string, rowCount int, uniqueColumns []string, idColumn string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	placeholder := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", placeholder)
			placeholder++
		}
		b.WriteString(")")
	}

	if len(uniqueColumns) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(uniqueColumns, ", "))
	}
	if idColumn != "" {
		fmt.Fprintf(&b, " RETURNING %s", idColumn)
	}
	return b.String()
}

// buildUpdate renders a single-row UPDATE matched on the unique columns.
// Update-column placeholders come first, unique-column placeholders after.
func buildUpdate(table string, updateColumns, uniqueColumns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET ", table)

	placeholder := 1
	for i, col := range updateColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = $%d", col, placeholder)
		placeholder++
	}

	b.WriteString(" WHERE ")
	for i, col := range uniqueColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", col, placeholder)
		placeholder++
	}
	return b.String()
}

func buildSelect(table string, columns []string, where string) string {
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
	if where != "" {
		sql += " WHERE " + where
	}
	return sql
}
