package tracing

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := Init("gtfs-ingest-test", true, &buf, logger)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "pipeline.run")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if !strings.Contains(buf.String(), "pipeline.run") {
		t.Errorf("span not exported: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "gtfs-ingest-test") {
		t.Errorf("service name missing from resource: %s", buf.String())
	}
}

func TestInit_Disabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("x", false, &buf, slog.Default())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled tracing wrote output: %s", buf.String())
	}
}
