package tracks

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/strrl/tpcpid/internal/errors"
)

// Format is the on-disk layout of a track file.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// Column names expected in the input file.
const (
	ColumnP             = "p"
	ColumnTPCInnerParam = "tpc_inner_param"
	ColumnTPCSignal     = "tpc_signal"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	}
	return "", errors.WithHint(errors.Configf("unsupported track file %q", path), "use a .csv, .parquet or .jsonl file")
}

// Reader streams tracks from a file through DuckDB in file order.
type Reader struct {
	db     *sql.DB
	path   string
	format Format
}

func NewReader(db *sql.DB, path string) (*Reader, error) {
	if path == "" {
		return nil, errors.WithHint(errors.Configf("no track file given"), "set --tracks")
	}
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db, path: path, format: format}, nil
}

func (r *Reader) source() string {
	path := strings.ReplaceAll(r.path, "'", "''")
	switch r.format {
	case FormatParquet:
		return fmt.Sprintf("read_parquet('%s')", path)
	case FormatJSON:
		return fmt.Sprintf(`read_json('%s',
				format = 'newline_delimited',
				union_by_name = true
			)`, path)
	default:
		return fmt.Sprintf("read_csv('%s', header = true, auto_detect = true)", path)
	}
}

// Count returns the number of tracks in the file.
func (r *Reader) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", r.source())

	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "failed to count tracks in %s", r.path)
	}
	return count, nil
}

// Batches calls fn with consecutive slices of at most batchSize tracks. The
// slice passed to fn is not reused after fn returns. Missing values are read
// as NaN so that the response model flags them.
func (r *Reader) Batches(ctx context.Context, batchSize int, fn func(index int, batch []Track) error) error {
	if batchSize <= 0 {
		return errors.Configf("batch size must be positive, got %d", batchSize)
	}

	query := fmt.Sprintf(`
		SELECT
			CAST(%s AS DOUBLE),
			CAST(%s AS DOUBLE),
			CAST(%s AS DOUBLE)
		FROM %s
	`, ColumnP, ColumnTPCInnerParam, ColumnTPCSignal, r.source())

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to query tracks in %s", r.path), errors.ErrConfiguration)
	}
	defer rows.Close()

	index := 0
	batch := make([]Track, 0, batchSize)
	for rows.Next() {
		var p, inner, signal sql.NullFloat64
		if err := rows.Scan(&p, &inner, &signal); err != nil {
			return errors.Wrapf(err, "failed to scan track %d", index*batchSize+len(batch))
		}

		batch = append(batch, Track{
			P:             orNaN(p),
			TPCInnerParam: orNaN(inner),
			TPCSignal:     orNaN(signal),
		})

		if len(batch) == batchSize {
			if err := fn(index, batch); err != nil {
				return err
			}
			index++
			batch = make([]Track, 0, batchSize)
		}
	}

	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "rows iteration error")
	}

	if len(batch) > 0 {
		return fn(index, batch)
	}
	return nil
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
