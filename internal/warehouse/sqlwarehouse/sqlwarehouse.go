// Package sqlwarehouse reads table schemas and concept rows from a
// database/sql warehouse: SQLite for local fixtures, Postgres for staging
// copies of the CDR.
//
// A dataset is a schema: an attached database in SQLite, a namespace in
// Postgres. Concept rows are narrowed by vocabulary in SQL and filtered in
// Go with catalog.Filter, so pattern semantics match the in-memory catalog.
package sqlwarehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/schema"
)

// Dialect selects catalog queries and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// ConceptTable is the vocabulary table read by Lookup.
const ConceptTable = "concept"

// Warehouse implements schema.Provider, schema.Lister and catalog.Catalog.
type Warehouse struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db. The caller keeps ownership of db.
func New(db *sql.DB, dialect Dialect) *Warehouse {
	return &Warehouse{db: db, dialect: dialect}
}

// Open connects with the driver matching dialect.
func Open(dialect Dialect, dsn string) (*Warehouse, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	if dialect == DialectSQLite {
		// ATTACHed datasets live on one connection.
		db.SetMaxOpenConns(1)
	}
	return &Warehouse{db: db, dialect: dialect}, nil
}

// Close closes the database.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// Attach makes the SQLite database at path visible as dataset.
func (w *Warehouse) Attach(ctx context.Context, dataset, path string) error {
	if w.dialect != DialectSQLite {
		return fmt.Errorf("attach: not supported by %s", w.dialect)
	}
	if _, err := w.db.ExecContext(ctx, "ATTACH DATABASE ? AS "+quoteIdent(dataset), path); err != nil {
		return fmt.Errorf("attach %s: %w", dataset, err)
	}
	return nil
}

func (w *Warehouse) describeQuery() string {
	if w.dialect == DialectPostgres {
		return `SELECT column_name, data_type FROM information_schema.columns ` +
			`WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
	}
	return `SELECT name, type FROM pragma_table_info(?2, ?1) ORDER BY cid`
}

func (w *Warehouse) listQuery() string {
	if w.dialect == DialectPostgres {
		return `SELECT table_name FROM information_schema.tables ` +
			`WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`
	}
	return `SELECT name FROM pragma_table_list WHERE schema = ?1 AND type = 'table' ` +
		`AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

// Describe implements schema.Provider. A table with no visible columns does
// not exist.
func (w *Warehouse) Describe(ctx context.Context, dataset, table string) (*ir.TableDescriptor, error) {
	key := ir.TableKey{Dataset: dataset, Table: table}
	rows, err := w.db.QueryContext(ctx, w.describeQuery(), dataset, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", key, err)
	}
	defer rows.Close()

	desc := &ir.TableDescriptor{Key: key}
	for rows.Next() {
		var name, native string
		if err := rows.Scan(&name, &native); err != nil {
			return nil, fmt.Errorf("describe %s: %w", key, err)
		}
		desc.Columns = append(desc.Columns, ir.ColumnDescriptor{
			Name:       name,
			Type:       ir.LogicalTypeOf(native),
			NativeType: native,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", key, err)
	}
	if len(desc.Columns) == 0 {
		return nil, &schema.NotFoundError{Key: key}
	}
	return desc, nil
}

// ListTables implements schema.Lister.
func (w *Warehouse) ListTables(ctx context.Context, dataset string) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, w.listQuery(), dataset)
	if err != nil {
		return nil, fmt.Errorf("list tables %s: %w", dataset, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables %s: %w", dataset, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables %s: %w", dataset, err)
	}
	return names, nil
}

// ConceptQuery returns the vocabulary scan for dataset, narrowed by
// vocabulary id when one is given.
func (w *Warehouse) ConceptQuery(dataset string, vocabularyID string) (string, []any) {
	q := "SELECT concept_id, concept_code, concept_name, vocabulary_id, concept_class_id FROM " +
		quoteIdent(dataset) + "." + quoteIdent(ConceptTable)
	var args []any
	if vocabularyID != "" {
		if w.dialect == DialectPostgres {
			q += " WHERE vocabulary_id = $1"
		} else {
			q += " WHERE vocabulary_id = ?"
		}
		args = append(args, vocabularyID)
	}
	return q, args
}

// Lookup implements catalog.Catalog.
func (w *Warehouse) Lookup(ctx context.Context, dataset string, filter ir.FilterSpec) ([]ir.ConceptRow, error) {
	fail := func(err error) error {
		return &catalog.QueryFailedError{Dataset: dataset, Filter: filter, Err: err}
	}

	q, args := w.ConceptQuery(dataset, filter.VocabularyID)
	rows, err := w.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fail(err)
	}
	defer rows.Close()

	var all []ir.ConceptRow
	for rows.Next() {
		var (
			r                        ir.ConceptRow
			code, name, vocab, class sql.NullString
		)
		if err := rows.Scan(&r.ID, &code, &name, &vocab, &class); err != nil {
			return nil, fail(err)
		}
		r.Code, r.Name, r.VocabularyID, r.ConceptClassID = code.String, name.String, vocab.String, class.String
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(err)
	}
	return catalog.Filter(dataset, filter, all)
}

// quoteIdent double-quotes an identifier for SQLite and Postgres.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
