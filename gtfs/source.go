package gtfs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/theoremus-urban-solutions/gtfs-ingest/internal/fetch"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

// DefaultFiles are streamed in dependency order: agencies before routes, trips
// before stop times.
var DefaultFiles = []string{
	"agency.txt",
	"calendar.txt",
	"routes.txt",
	"stops.txt",
	"shapes.txt",
	"trips.txt",
	"stop_times.txt",
}

// Row is one CSV record keyed by lower-cased column name.
type Row struct {
	File   string
	Line   int
	Fields map[string]string
}

// Get returns a trimmed field value, "" when the column is absent.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

// ZipSource streams the rows of a GTFS zip archive. Location is an http(s) URL
// or a local path. Files absent from the archive are skipped.
type ZipSource struct {
	Location string
	Files    []string
	Fetcher  fetch.Fetcher
}

func (s *ZipSource) OutputType() reflect.Type { return reflect.TypeFor[Row]() }

func (s *ZipSource) Stream(rc *pipeline.RunContext, emit pipeline.Emit) error {
	if s.Location == "" {
		return errors.New("gtfs zip: no location configured")
	}
	data, err := s.Fetcher.Fetch(rc.Context(), s.Location)
	if err != nil {
		return fmt.Errorf("gtfs zip: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("gtfs zip %s: %w", s.Location, err)
	}

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		// feeds zipped from a parent directory carry a path prefix
		name := strings.ToLower(f.Name)
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		entries[name] = f
	}

	files := s.Files
	if len(files) == 0 {
		files = DefaultFiles
	}
	for _, name := range files {
		f, ok := entries[name]
		if !ok {
			rc.Logger().Debug("gtfs file not in archive", "file", name)
			continue
		}
		n, err := streamCSV(rc, f, emit)
		if err != nil {
			return err
		}
		rc.Logger().Debug("gtfs file streamed", "file", name, "rows", n)
	}
	return nil
}

func streamCSV(rc *pipeline.RunContext, f *zip.File, emit pipeline.Emit) (int, error) {
	r, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer r.Close()

	name := strings.ToLower(f.Name[strings.LastIndex(f.Name, "/")+1:])
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true

	head, err := csvr.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s header: %w", name, err)
	}
	for i, h := range head {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		head[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows := 0
	for {
		rec, err := csvr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return rows, fmt.Errorf("read %s: %w", name, err)
			}
			if err := rc.HandleError(fmt.Errorf("%s: %w", name, err), pipeline.MetricName(rc.Stage(), "skipped")); err != nil {
				return rows, err
			}
			continue
		}
		line, _ := csvr.FieldPos(0)
		fields := make(map[string]string, len(head))
		for i, v := range rec {
			if i < len(head) {
				fields[head[i]] = v
			}
		}
		if err := emit(Row{File: name, Line: line, Fields: fields}); err != nil {
			return rows, err
		}
		rows++
	}
}
