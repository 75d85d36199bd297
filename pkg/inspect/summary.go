// Package inspect summarizes produced particle tables with DuckDB.
package inspect

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/physobj/physobj/pkg/errors"
)

// DefaultTopN is the number of PDG IDs reported by Summarize.
const DefaultTopN = 10

// Column is one column of the output table.
type Column struct {
	Name string
	Type string
}

// PDGCount is the multiplicity of one particle species across all events.
type PDGCount struct {
	PdgID int32
	Count int64
}

// Summary describes one output table.
type Summary struct {
	Path      string
	Rows      int64
	Particles int64
	MinCount  int64
	MaxCount  int64
	MeanCount float64
	Columns   []Column
	TopPDG    []PDGCount

	// Mismatched counts rows whose list lengths differ from nGenPart.
	Mismatched int64

	ComputeTime time.Duration
}

// Inspector runs summary queries on an in-memory DuckDB.
type Inspector struct {
	db   *sql.DB
	topN int
}

// NewInspector opens an in-memory DuckDB database.
func NewInspector() (*Inspector, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return &Inspector{db: db, topN: DefaultTopN}, nil
}

// SetTopN changes how many PDG IDs are reported.
func (in *Inspector) SetTopN(n int) {
	if n > 0 {
		in.topN = n
	}
}

// Close releases resources.
func (in *Inspector) Close() error {
	return in.db.Close()
}

// Summarize opens an inspector, summarizes path and closes it.
func Summarize(ctx context.Context, path string) (*Summary, error) {
	in, err := NewInspector()
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return in.Summarize(ctx, path)
}

// listColumns must match nGenPart on every row.
var listColumns = []string{
	"GenPart_pt", "GenPart_eta", "GenPart_mass", "GenPart_pdgId", "GenPart_phi", "GenPart_status",
}

// Summarize computes row, count and species statistics of a Parquet table.
func (in *Inspector) Summarize(ctx context.Context, path string) (*Summary, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.InputNotFound(path)
	}

	start := time.Now()
	s := &Summary{Path: path}
	from := fmt.Sprintf("read_parquet('%s')", escapePath(path))

	err := in.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			CAST(COALESCE(SUM(nGenPart), 0) AS BIGINT),
			CAST(COALESCE(MIN(nGenPart), 0) AS BIGINT),
			CAST(COALESCE(MAX(nGenPart), 0) AS BIGINT),
			COALESCE(AVG(nGenPart), 0)
		FROM %s`, from)).Scan(&s.Rows, &s.Particles, &s.MinCount, &s.MaxCount, &s.MeanCount)
	if err != nil {
		return nil, queryError(err, path, "count")
	}

	if s.Columns, err = in.columns(ctx, from); err != nil {
		return nil, queryError(err, path, "describe")
	}
	if s.TopPDG, err = in.topPDG(ctx, from); err != nil {
		return nil, queryError(err, path, "pdg")
	}

	conds := make([]string, len(listColumns))
	for i, c := range listColumns {
		conds[i] = fmt.Sprintf(`COALESCE(len("%s"), 0) <> nGenPart`, c)
	}
	err = in.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s`, from, strings.Join(conds, " OR "))).Scan(&s.Mismatched)
	if err != nil {
		return nil, queryError(err, path, "consistency")
	}

	s.ComputeTime = time.Since(start)
	return s, nil
}

func (in *Inspector) columns(ctx context.Context, from string) ([]Column, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`DESCRIBE SELECT * FROM %s`, from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var null, key, dflt, extra interface{}
		if err := rows.Scan(&c.Name, &c.Type, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (in *Inspector) topPDG(ctx context.Context, from string) ([]PDGCount, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT pdg, COUNT(*) AS n
		FROM (SELECT unnest(GenPart_pdgId) AS pdg FROM %s)
		GROUP BY pdg
		ORDER BY n DESC, pdg
		LIMIT %d`, from, in.topN))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PDGCount
	for rows.Next() {
		var p PDGCount
		if err := rows.Scan(&p.PdgID, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryError(err error, path, query string) error {
	return errors.Wrap(err, errors.CodeInvalidFormat, "summary query failed").
		WithContext("path", path).
		WithContext("query", query)
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
