// Package testutil builds GTFS and GTFS-Realtime fixtures for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

// SampleGTFS is a small single-route network in UTC. Trip T2 runs past
// midnight.
func SampleGTFS() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"METRO,Metro Transit,https://metro.example.com,UTC\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,1,1,20250101,20271231\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R1,METRO,1,Central - North,3\n",
		"stops.txt": "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
			"S1,101,Central,42.6977,23.3219\n" +
			"S2,102,Market,42.7000,23.3300\n" +
			"S3,103,North,42.7050,23.3400\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\n" +
			"SH1,42.6977,23.3219,1\n" +
			"SH1,42.7000,23.3300,2\n" +
			"SH1,42.7050,23.3400,3\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id,shape_id,block_id\n" +
			"R1,WK,T1,North,0,SH1,B1\n" +
			"R1,WK,T2,North,0,SH1,B1\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,S1,1\n" +
			"T1,08:10:00,08:11:00,S2,2\n" +
			"T1,08:20:00,08:20:00,S3,3\n" +
			"T2,24:50:00,24:50:00,S1,1\n" +
			"T2,25:00:00,25:00:00,S2,2\n" +
			"T2,25:10:00,25:10:00,S3,3\n",
	}
}

// SampleEntityCount is the number of entities SampleGTFS decodes into.
const SampleEntityCount = 1 + 1 + 1 + 3 + 3 + 2 + 6

// ZipBytes builds a zip archive holding files.
func ZipBytes(t testing.TB, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s to zip: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a zip archive of files into a temp dir and returns its path.
func WriteZip(t testing.TB, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtfs.zip")
	if err := os.WriteFile(path, ZipBytes(t, files), 0o644); err != nil {
		t.Fatalf("Failed to write zip: %v", err)
	}
	return path
}

// Fetcher serves fixed payloads keyed by location.
type Fetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
}

func NewFetcher() *Fetcher {
	return &Fetcher{payloads: map[string][]byte{}, errs: map[string]error{}, calls: map[string]int{}}
}

// Set replaces the payload served for location.
func (f *Fetcher) Set(location string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[location] = body
	delete(f.errs, location)
}

// Fail makes location return err.
func (f *Fetcher) Fail(location string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[location] = err
}

// Calls returns how many times location was fetched.
func (f *Fetcher) Calls(location string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[location]
}

func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[location]++
	if err := f.errs[location]; err != nil {
		return nil, err
	}
	body, ok := f.payloads[location]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", location)
	}
	return body, nil
}
