// Package bigquery reads table schemas and concept rows from BigQuery.
//
// A Warehouse implements schema.Provider, schema.Lister and catalog.Catalog
// over one client. Datasets are named "dataset" (client project) or
// "project.dataset".
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/querysql"
	"github.com/all-of-us/cdr-deid/internal/schema"
)

// ConceptTable is the vocabulary table queried by Lookup.
const ConceptTable = "concept"

// Warehouse is a BigQuery-backed schema provider and concept catalog.
type Warehouse struct {
	client *bq.Client
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *bq.Client) *Warehouse {
	return &Warehouse{client: client}
}

// Open creates a client for projectID.
func Open(ctx context.Context, projectID string, opts ...option.ClientOption) (*Warehouse, error) {
	client, err := bq.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &Warehouse{client: client}, nil
}

// Close closes the underlying client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) dataset(name string) *bq.Dataset {
	if project, ds, ok := strings.Cut(name, "."); ok {
		return w.client.DatasetInProject(project, ds)
	}
	return w.client.Dataset(name)
}

// Describe implements schema.Provider from the table's metadata.
func (w *Warehouse) Describe(ctx context.Context, dataset, table string) (*ir.TableDescriptor, error) {
	key := ir.TableKey{Dataset: dataset, Table: table}
	md, err := w.dataset(dataset).Table(table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, &schema.NotFoundError{Key: key, Err: err}
		}
		return nil, fmt.Errorf("table metadata %s: %w", key, err)
	}
	return describe(key, md.Schema), nil
}

// describe converts top-level schema fields to a descriptor, keeping their
// order.
func describe(key ir.TableKey, s bq.Schema) *ir.TableDescriptor {
	desc := &ir.TableDescriptor{Key: key, Columns: make([]ir.ColumnDescriptor, 0, len(s))}
	for _, f := range s {
		native := string(f.Type)
		desc.Columns = append(desc.Columns, ir.ColumnDescriptor{
			Name:       f.Name,
			Type:       ir.LogicalTypeOf(native),
			NativeType: native,
		})
	}
	return desc
}

// ListTables implements schema.Lister. Names are sorted.
func (w *Warehouse) ListTables(ctx context.Context, dataset string) ([]string, error) {
	it := w.dataset(dataset).Tables(ctx)
	names := []string{}
	for {
		t, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if isNotFound(err) {
				return nil, &schema.NotFoundError{Key: ir.TableKey{Dataset: dataset}, Err: err}
			}
			return nil, fmt.Errorf("list tables %s: %w", dataset, err)
		}
		names = append(names, t.TableID)
	}
	sort.Strings(names)
	return names, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// conceptRow is the BigQuery row shape of a concept query.
type conceptRow struct {
	ID             int64         `bigquery:"concept_id"`
	Code           bq.NullString `bigquery:"concept_code"`
	Name           bq.NullString `bigquery:"concept_name"`
	VocabularyID   bq.NullString `bigquery:"vocabulary_id"`
	ConceptClassID bq.NullString `bigquery:"concept_class_id"`
}

func (r conceptRow) concept() ir.ConceptRow {
	return ir.ConceptRow{
		ID:             r.ID,
		Code:           r.Code.StringVal,
		Name:           r.Name.StringVal,
		VocabularyID:   r.VocabularyID.StringVal,
		ConceptClassID: r.ConceptClassID.StringVal,
	}
}

// Lookup implements catalog.Catalog with one parameterized query.
func (w *Warehouse) Lookup(ctx context.Context, dataset string, filter ir.FilterSpec) ([]ir.ConceptRow, error) {
	if _, err := filter.Matcher(); err != nil {
		return nil, &catalog.QueryFailedError{Dataset: dataset, Filter: filter, Err: err}
	}

	sql, params, err := ConceptQuery(dataset, filter)
	if err != nil {
		return nil, &catalog.QueryFailedError{Dataset: dataset, Filter: filter, Err: err}
	}
	q := w.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &catalog.QueryFailedError{Dataset: dataset, Filter: filter, Err: err}
	}
	rows := []ir.ConceptRow{}
	for {
		var r conceptRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &catalog.QueryFailedError{Dataset: dataset, Filter: filter, Err: err}
		}
		rows = append(rows, r.concept())
	}
	ir.SortConcepts(rows)
	return rows, nil
}

// ConceptQuery builds the concept lookup for filter. Patterns are matched
// case-insensitively with REGEXP_CONTAINS, the same RE2 semantics as
// ir.Matcher.
func ConceptQuery(dataset string, filter ir.FilterSpec) (string, []bq.QueryParameter, error) {
	path, err := querysql.TablePath(dataset, ConceptTable)
	if err != nil {
		return "", nil, err
	}
	var (
		where  []string
		params []bq.QueryParameter
	)
	if filter.VocabularyID != "" {
		where = append(where, "c.vocabulary_id = @vocabulary_id")
		params = append(params, bq.QueryParameter{Name: "vocabulary_id", Value: filter.VocabularyID})
	}
	if len(filter.ConceptClassIDs) > 0 {
		where = append(where, "c.concept_class_id IN UNNEST(@concept_class_ids)")
		params = append(params, bq.QueryParameter{Name: "concept_class_ids", Value: filter.ConceptClassIDs})
	}
	if filter.CodePattern != "" {
		where = append(where, "REGEXP_CONTAINS(IFNULL(c.concept_code, ''), @code_pattern)")
		params = append(params, bq.QueryParameter{Name: "code_pattern", Value: ir.CaseInsensitive(filter.CodePattern)})
	}
	if filter.NamePattern != "" {
		where = append(where, "REGEXP_CONTAINS(IFNULL(c.concept_name, ''), @name_pattern)")
		params = append(params, bq.QueryParameter{Name: "name_pattern", Value: ir.CaseInsensitive(filter.NamePattern)})
	}
	if filter.ExcludePattern != "" {
		where = append(where, "NOT (REGEXP_CONTAINS(IFNULL(c.concept_code, ''), @exclude_pattern) OR REGEXP_CONTAINS(IFNULL(c.concept_name, ''), @exclude_pattern))")
		params = append(params, bq.QueryParameter{Name: "exclude_pattern", Value: ir.CaseInsensitive(filter.ExcludePattern)})
	}

	var b strings.Builder
	b.WriteString("SELECT c.concept_id, c.concept_code, c.concept_name, c.vocabulary_id, c.concept_class_id")
	b.WriteString(" FROM " + path + " AS c")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY c.concept_id")
	return b.String(), params, nil
}
