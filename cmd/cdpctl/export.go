package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	cdpstorage "stablevault/services/cdpd/storage"
)

const exportCommand = "export-events"

// eventRow is the parquet layout of one committed engine event. The common
// position attributes get their own columns; the full set is kept as JSON.
type eventRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	User       string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset      string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func runExportEvents(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	eventsDB := fs.String("events-db", "./cdpd-data/events.sqlite", "Path to the cdpd event store")
	output := fs.String("out", "events.parquet", "Output parquet file")
	eventType := fs.String("type", "", "Only export events of this type")
	address := fs.String("address", "", "Only export events naming this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*output) == "" {
		return errors.New("--out is required")
	}
	if _, err := os.Stat(*eventsDB); err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	dsn, err := cdpstorage.FileDSN(*eventsDB)
	if err != nil {
		return err
	}
	store, err := cdpstorage.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListEvents(context.Background(), cdpstorage.EventFilter{Type: *eventType, Address: *address})
	if err != nil {
		return err
	}
	if err := writeEventsParquet(*output, records); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d events to %s\n", len(records), *output)
	return nil
}

func writeEventsParquet(path string, records []cdpstorage.EventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		attrs, err := json.Marshal(rec.Attributes)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: encode attributes: %w", err)
		}
		row := &eventRow{
			ID:         rec.ID,
			Type:       rec.Type,
			RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339Nano),
			User:       firstAttribute(rec.Attributes, "user", "on_behalf_of", "from"),
			Asset:      rec.Attributes["asset"],
			Amount:     firstAttribute(rec.Attributes, "amount", "debt_covered"),
			Attributes: string(attrs),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

func firstAttribute(attrs map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := attrs[key]; value != "" {
			return value
		}
	}
	return ""
}
