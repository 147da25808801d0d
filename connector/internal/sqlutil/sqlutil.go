// Package sqlutil holds the database/sql result-loading and text-formatting
// code shared by every connector backend built on the standard library's
// database/sql interface (duckdb, mysql, clickhouse), so each backend package
// only needs to own its driver import and connection string handling.
package sqlutil

import (
	"database/sql"
	"fmt"

	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// LoadRows drains rows into a QueryResult, using each column's reported
// database type name where the driver supplies one.
func LoadRows(rows *sql.Rows) (executor.QueryResult, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "reading column types")
	}

	result := executor.QueryResult{Columns: make([]executor.Column, len(colTypes))}
	scanDest := make([]any, len(colTypes))
	for i, ct := range colTypes {
		result.Columns[i] = executor.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
		scanDest[i] = new(any)
	}

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "scanning row")
		}
		row := make([]any, len(scanDest))
		for i, d := range scanDest {
			row[i] = *(d.(*any))
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "reading query result")
	}
	return result, nil
}

// FormatResult renders a QueryResult as a simple tab-separated table, the
// shape RunQuery/ExplainQuery return as a single string.
func FormatResult(result executor.QueryResult) string {
	out := ""
	for i, col := range result.Columns {
		if i > 0 {
			out += "\t"
		}
		out += col.Name
	}
	out += "\n"
	for _, row := range result.Rows {
		for i, v := range row {
			if i > 0 {
				out += "\t"
			}
			out += fmt.Sprintf("%v", v)
		}
		out += "\n"
	}
	return out
}
