package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"stablevault/core/types"
	cdpstorage "stablevault/services/cdpd/storage"
)

func TestExportEventsWritesParquet(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.sqlite")
	dsn, err := cdpstorage.FileDSN(dbPath)
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	store, err := cdpstorage.Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	events := []*types.Event{
		types.NewEvent("cdp.collateral.deposited").With("user", "sv1alice").With("asset", "svasset1weth").With("amount", "10"),
		types.NewEvent("cdp.debt.minted").With("user", "sv1alice").With("amount", "5000"),
		types.NewEvent("cdp.debt.minted").With("user", "sv1bob").With("amount", "7"),
	}
	if err := store.Publish(context.Background(), events); err != nil {
		t.Fatalf("publish: %v", err)
	}
	store.Close()

	outPath := filepath.Join(dir, "minted.parquet")
	var out bytes.Buffer
	if err := runExportEvents([]string{"-events-db", dbPath, "-out", outPath, "-type", "cdp.debt.minted"}, &out); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out.String(), "exported 2 events") {
		t.Fatalf("unexpected output %q", out.String())
	}

	fr, err := local.NewLocalFileReader(outPath)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(eventRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	rows := make([]eventRow, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 || rows[0].User != "sv1alice" || rows[0].Amount != "5000" || rows[1].User != "sv1bob" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	if err := runExportEvents([]string{"-events-db", filepath.Join(dir, "missing.sqlite"), "-out", outPath}, &out); err == nil {
		t.Fatalf("expected a missing event store to fail")
	}
}
