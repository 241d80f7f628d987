// Package output persists quantized tables and documents how to decode them.
package output

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"

	"github.com/marcboeker/go-duckdb"

	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/pipeline"
	"github.com/strrl/tpcpid/internal/quant"
	"github.com/strrl/tpcpid/internal/species"
)

const (
	codecTable   = "pid_codec"
	batchTable   = "pid_batch"
	nsigmaColumn = "tpc_nsigma_store"
)

// Sink writes one DuckDB table per enabled species. A table holds a single
// code column; its rowid is the index of the track in the input, so every
// table of a run is index-aligned with the tracks and with each other.
// pid_batch records which rows each batch produced.
type Sink struct {
	db       *sql.DB
	bits     int
	prepared map[species.Species]bool
	rows     int64
}

func NewSink(db *sql.DB) *Sink {
	return &Sink{
		db:       db,
		prepared: make(map[species.Species]bool),
	}
}

// storageType is the narrowest signed integer column holding bits.
func storageType(bits int) string {
	switch {
	case bits <= 8:
		return "TINYINT"
	case bits <= 16:
		return "SMALLINT"
	default:
		return "INTEGER"
	}
}

// storageBytes is the width of one stored code.
func storageBytes(bits int) int {
	switch {
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	default:
		return 4
	}
}

// storageValue converts code to the Go type of its storage column.
func storageValue(bits int, code quant.Code) driver.Value {
	switch {
	case bits <= 8:
		return int8(code)
	case bits <= 16:
		return int16(code)
	default:
		return int32(code)
	}
}

// Prepare starts a run: the tables of the enabled species are recreated
// empty, the tables of every other species are dropped, and the codec and
// batch bookkeeping start afresh. A database reused across runs therefore
// only ever describes the latest one.
func (s *Sink) Prepare(ctx context.Context, enabled []species.Species, meta quant.Meta) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE OR REPLACE TABLE %s (
			table_name   VARCHAR PRIMARY KEY,
			nsigma_min   DOUBLE,
			nsigma_max   DOUBLE,
			bin_width    DOUBLE,
			bits         INTEGER,
			invalid_code INTEGER
		)`, codecTable)); err != nil {
		return errors.Wrap(err, "failed to create codec table")
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE OR REPLACE TABLE %s (
			batch     INTEGER PRIMARY KEY,
			first_row BIGINT,
			tracks    INTEGER
		)`, batchTable)); err != nil {
		return errors.Wrap(err, "failed to create batch table")
	}

	want := make(map[species.Species]bool, len(enabled))
	for _, sp := range enabled {
		want[sp] = true
	}

	for _, sp := range species.All() {
		name := sp.OutputName()
		if !want[sp] {
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, name)); err != nil {
				return errors.Wrapf(err, "failed to drop table %s", name)
			}
			continue
		}

		ddl := fmt.Sprintf(`CREATE OR REPLACE TABLE %q (%s %s)`, name, nsigmaColumn, storageType(meta.Bits))
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrapf(err, "failed to create table %s", name)
		}

		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?, ?, ?, ?)`, codecTable),
			name, meta.Min, meta.Max, meta.BinWidth, meta.Bits, int(meta.InvalidCode)); err != nil {
			return errors.Wrapf(err, "failed to record codec of %s", name)
		}
	}

	s.bits = meta.Bits
	s.prepared = want
	s.rows = 0
	return nil
}

// Write appends the tables of one batch in a single transaction, using the
// DuckDB appender. Every prepared table must be present and all must have
// the same length.
func (s *Sink) Write(ctx context.Context, batch int, tables map[species.Species]*pipeline.Table) error {
	keys := make([]species.Species, 0, len(tables))
	n := -1
	for sp, table := range tables {
		if !s.prepared[sp] {
			return errors.Newf("table %s was not prepared", sp.OutputName())
		}
		if n >= 0 && len(table.Codes) != n {
			return errors.Newf("batch %d: table %s has %d rows, want %d", batch, sp.OutputName(), len(table.Codes), n)
		}
		n = len(table.Codes)
		keys = append(keys, sp)
	}
	if len(keys) != len(s.prepared) {
		return errors.Newf("batch %d carries %d of %d prepared tables", batch, len(keys), len(s.prepared))
	}
	if n < 0 {
		n = 0
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	for _, sp := range keys {
		if err := s.appendCodes(conn, tables[sp]); err != nil {
			return err
		}
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?)`, batchTable), batch, s.rows, n); err != nil {
		return errors.Wrapf(err, "failed to record batch %d", batch)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return errors.Wrapf(err, "failed to commit batch %d", batch)
	}
	committed = true
	s.rows += int64(n)
	return nil
}

func (s *Sink) appendCodes(conn *sql.Conn, table *pipeline.Table) error {
	return conn.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return errors.Newf("unexpected driver connection %T", raw)
		}

		appender, err := duckdb.NewAppenderFromConn(dc, "", table.Name())
		if err != nil {
			return errors.Wrapf(err, "failed to create appender for %s", table.Name())
		}

		for i, code := range table.Codes {
			if err := appender.AppendRow(storageValue(s.bits, code)); err != nil {
				appender.Close()
				return errors.Wrapf(err, "failed to append %s row %d", table.Name(), i)
			}
		}

		if err := appender.Close(); err != nil {
			return errors.Wrapf(err, "failed to flush %s", table.Name())
		}
		return nil
	})
}

// ReadCodes returns the stored codes of one batch of a table in track order.
// A batch that was never written yields no codes.
func (s *Sink) ReadCodes(ctx context.Context, sp species.Species, batch int) ([]quant.Code, error) {
	var first, count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT first_row, tracks FROM %s WHERE batch = ?`, batchTable), batch,
	).Scan(&first, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up batch %d", batch)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %q WHERE rowid >= ? AND rowid < ? ORDER BY rowid`, nsigmaColumn, sp.OutputName()),
		first, first+count)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", sp.OutputName())
	}
	defer rows.Close()

	var codes []quant.Code
	for rows.Next() {
		var v int32
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", sp.OutputName())
		}
		codes = append(codes, quant.Code(v))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows iteration error")
	}
	return codes, nil
}

// ReadMeta returns the codec recorded for a table.
func (s *Sink) ReadMeta(ctx context.Context, sp species.Species) (quant.Meta, error) {
	var meta quant.Meta
	var invalid int32
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT nsigma_min, nsigma_max, bin_width, bits, invalid_code FROM %s WHERE table_name = ?`, codecTable),
		sp.OutputName(),
	).Scan(&meta.Min, &meta.Max, &meta.BinWidth, &meta.Bits, &invalid)
	if err != nil {
		return quant.Meta{}, errors.Wrapf(err, "failed to read codec of %s", sp.OutputName())
	}
	meta.InvalidCode = quant.Code(invalid)
	return meta, nil
}
