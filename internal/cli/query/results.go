package query

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// rowScanner is the part of *sql.Rows the printers need.
type rowScanner interface {
	Scan(...any) error
	Next() bool
}

func scanRow(rows rowScanner, n int) ([]any, error) {
	values := make([]any, n)
	valuePtrs := make([]any, n)
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return values, nil
}

// printResultsAsTable prints query results in an aligned table followed by
// the row count.
func printResultsAsTable(out io.Writer, rows rowScanner, columns []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	for i, col := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, col)
	}
	_, _ = fmt.Fprintln(w)

	for i := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, "---")
	}
	_, _ = fmt.Fprintln(w)

	rowCount := 0
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return err
		}
		for i, val := range values {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, formatValue(val))
		}
		_, _ = fmt.Fprintln(w)
		rowCount++
	}

	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n(%d rows)\n", rowCount)
	return err
}

// printResultsAsCSV prints query results in CSV format.
func printResultsAsCSV(out io.Writer, rows rowScanner, columns []string) error {
	w := csv.NewWriter(out)

	if err := w.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return err
		}
		record := make([]string, len(columns))
		for i, val := range values {
			record[i] = formatValue(val)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// printResultsAsJSON prints query results as an array of objects.
func printResultsAsJSON(out io.Writer, rows rowScanner, columns []string) error {
	results := []map[string]any{}
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// formatValue formats a value for display in table or CSV output.
func formatValue(val any) string {
	if val == nil {
		return "NULL"
	}

	switch v := val.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}
