package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"possync/internal/domain"
	"possync/internal/excel"
	"possync/internal/localstore"
)

type options struct {
	catalogPath string
	dbPath      string
}

func main() {
	opts := parseFlags()

	ctx := context.Background()
	store, err := localstore.Open(ctx, opts.dbPath)
	if err != nil {
		log.Fatalf("local store error: %v", err)
	}
	defer store.Close()

	rows, err := readCatalogRows(opts.catalogPath)
	if err != nil {
		log.Fatalf("read catalog file: %v", err)
	}

	result, err := store.ImportCatalog(ctx, rows)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	log.Printf(
		"import complete: batch_id=%s imported=%d skipped=%d total_rows=%d",
		result.BatchID,
		result.Imported,
		result.Skipped,
		len(rows),
	)
}

func parseFlags() options {
	var opts options
	flag.StringVar(
		&opts.catalogPath,
		"catalog",
		"catalog.xlsx",
		"path to the catalog xlsx file",
	)
	flag.StringVar(
		&opts.dbPath,
		"db",
		"pos.db",
		"path to the terminal database file",
	)
	flag.Parse()
	return opts
}

func readCatalogRows(path string) ([]domain.CatalogRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	rows, err := excel.ParseCatalogRows(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}
