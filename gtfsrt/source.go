package gtfsrt

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-ingest/internal/fetch"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

// FeedSource polls realtime endpoints and emits their bodies. Polls is the
// number of rounds; zero means one round, negative polls until the run ends.
type FeedSource struct {
	Locations []string
	Interval  time.Duration
	Polls     int
	Fetcher   fetch.Fetcher
}

func (s *FeedSource) OutputType() reflect.Type { return reflect.TypeFor[Payload]() }

func (s *FeedSource) Stream(rc *pipeline.RunContext, emit pipeline.Emit) error {
	if len(s.Locations) == 0 {
		return errors.New("gtfsrt: no feed locations configured")
	}
	polls := s.Polls
	if polls == 0 {
		polls = 1
	}
	failed := pipeline.MetricName(rc.Stage(), "skipped")

	for round := 0; polls < 0 || round < polls; round++ {
		if round > 0 {
			t := time.NewTimer(s.Interval)
			select {
			case <-rc.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
		for _, loc := range s.Locations {
			body, err := s.Fetcher.Fetch(rc.Context(), loc)
			if err != nil {
				if rc.Aborted() {
					return nil
				}
				if err := rc.HandleError(fmt.Errorf("fetch %s: %w", loc, err), failed); err != nil {
					return err
				}
				continue
			}
			if len(body) == 0 {
				rc.Logger().Warn("empty realtime payload", "location", loc)
				continue
			}
			if err := emit(Payload{Location: loc, Body: body, FetchedAt: time.Now()}); err != nil {
				return err
			}
		}
	}
	return nil
}
