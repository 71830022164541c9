package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/config"
	"github.com/all-of-us/cdr-deid/internal/schema"
	"github.com/all-of-us/cdr-deid/internal/warehouse/bigquery"
	"github.com/all-of-us/cdr-deid/internal/warehouse/sqlwarehouse"
)

// Backend is an opened warehouse.
type Backend struct {
	Schema  schema.Provider
	Catalog catalog.Catalog
	Close   func() error
}

// BackendFunc opens the warehouse described by cfg.
type BackendFunc func(ctx context.Context, cfg *config.Config) (*Backend, error)

// OpenWarehouse opens the configured warehouse adapter.
func OpenWarehouse(ctx context.Context, cfg *config.Config) (*Backend, error) {
	wh := cfg.Warehouse
	switch wh.Kind {
	case config.KindBigQuery:
		w, err := bigquery.Open(ctx, wh.Project)
		if err != nil {
			return nil, err
		}
		return &Backend{Schema: w, Catalog: w, Close: w.Close}, nil

	case config.KindSQLite, config.KindPostgres:
		dialect := sqlwarehouse.DialectPostgres
		dsn := wh.DSN
		if wh.Kind == config.KindSQLite {
			dialect = sqlwarehouse.DialectSQLite
			if dsn == "" {
				dsn = ":memory:"
			}
		}
		w, err := sqlwarehouse.Open(dialect, dsn)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(wh.Attach))
		for name := range wh.Attach {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := w.Attach(ctx, name, wh.Attach[name]); err != nil {
				w.Close()
				return nil, err
			}
		}
		return &Backend{Schema: w, Catalog: w, Close: w.Close}, nil

	case "":
		return nil, fmt.Errorf("no warehouse configured: set warehouse.kind in the config file")
	default:
		return nil, fmt.Errorf("unknown warehouse kind %q", wh.Kind)
	}
}
