package source

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// NaturalEarthReader streams features out of a Natural Earth SQLite
// package: one table, a WKB geometry blob column, and arbitrary attribute
// columns alongside it. Single pass, pass-2 only.
type NaturalEarthReader struct {
	db      *sql.DB
	rows    *sql.Rows
	cols    []string
	geomCol string
	next    uint64
}

// OpenNaturalEarth opens the SQLite file at path and prepares a streaming
// scan of table, reading geomCol as WKB and every other column as an
// attribute.
func OpenNaturalEarth(path, table, geomCol string) (*NaturalEarthReader, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, perr.New(perr.IoFailure, "source.OpenNaturalEarth", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, perr.New(perr.IoFailure, "source.OpenNaturalEarth", err)
	}

	cols, err := tableColumns(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}

	rows, err := db.Query(fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		db.Close()
		return nil, perr.New(perr.SourceParseError, "source.OpenNaturalEarth",
			errors.Wrapf(err, "scanning table %q of %q", table, path))
	}

	return &NaturalEarthReader{db: db, rows: rows, cols: cols, geomCol: geomCol}, nil
}

func tableColumns(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, perr.New(perr.SourceParseError, "source.tableColumns",
			errors.Wrapf(err, "reading schema of table %q", table))
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, perr.New(perr.SourceParseError, "source.tableColumns", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Next returns the next feature, or io.EOF once the table is exhausted.
func (r *NaturalEarthReader) Next() (*model.SourceFeature, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, perr.New(perr.SourceParseError, "source.NaturalEarthReader.Next", err)
		}
		return nil, io.EOF
	}

	vals := make([]interface{}, len(r.cols))
	ptrs := make([]interface{}, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, perr.New(perr.SourceParseError, "source.NaturalEarthReader.Next", err)
	}

	tags := make(model.Tags, len(r.cols))
	var geomBlob []byte
	for i, col := range r.cols {
		if col == r.geomCol {
			if b, ok := vals[i].([]byte); ok {
				geomBlob = b
			}
			continue
		}
		if vals[i] != nil {
			tags[col] = vals[i]
		}
	}

	r.next++
	id := r.next

	blob := geomBlob
	geomFn := func() (orb.Geometry, error) {
		if blob == nil {
			return nil, perr.New(perr.GeometryInvalid, "source.NaturalEarthReader.Next", errNoGeometryColumn)
		}
		g, err := wkb.Unmarshal(blob)
		if err != nil {
			return nil, perr.New(perr.GeometryInvalid, "source.NaturalEarthReader.Next", err)
		}
		return g, nil
	}
	return model.NewSourceFeature(id, model.KindPolygon, tags, geomFn), nil
}

type errNoGeometryColumnType struct{}

func (errNoGeometryColumnType) Error() string { return "row has no WKB geometry column" }

var errNoGeometryColumn = errNoGeometryColumnType{}

// Close releases the query cursor and database handle.
func (r *NaturalEarthReader) Close() error {
	r.rows.Close()
	return r.db.Close()
}

