package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-ingest/config"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/internal/fetch"
	"github.com/theoremus-urban-solutions/gtfs-ingest/storage/sqlite"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
)

// Stage registry keys.
const (
	StageGTFSZip            = "gtfs.zip"
	StageGTFSDecode         = "gtfs.decode"
	StageSQLiteEntities     = "sqlite.entities"
	StageGTFSRTFeed         = "gtfsrt.feed"
	StageGTFSRTDecode       = "gtfsrt.decode"
	StageTrackingMatch      = "tracking.match"
	StageSQLiteObservations = "sqlite.observations"
)

var (
	ErrUnknownStage = errors.New("stage not registered")
	ErrNoSource     = errors.New("feed has no location for this stage")
)

// Factory builds a fresh stage value for feed. It is called once per run.
type Factory func(feed config.Feed) (any, error)

// Registry maps stage keys to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under key. Overwrites any existing registration.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = f
}

// Get returns the factory for key.
func (r *Registry) Get(key string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key]
	return f, ok
}

// Keys returns the registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deps are the shared resources stage factories draw on.
type Deps struct {
	Store *sqlite.Store
	// Fetcher overrides the per-feed HTTP/file fetcher, mainly for tests.
	Fetcher   fetch.Fetcher
	BatchSize int
}

// StaticFetchTimeout bounds the download of a static GTFS archive.
const StaticFetchTimeout = 5 * time.Minute

func (d Deps) fetcher(timeout time.Duration) fetch.Fetcher {
	if d.Fetcher != nil {
		return d.Fetcher
	}
	return fetch.New(timeout)
}

// DefaultRegistry registers every built-in stage. GTFS-Realtime decoders are
// kept per feed across runs so stale feed snapshots are dropped.
func DefaultRegistry(deps Deps) *Registry {
	reg := NewRegistry()

	reg.Register(StageGTFSZip, func(feed config.Feed) (any, error) {
		if feed.GTFS.StaticURL == "" {
			return nil, fmt.Errorf("%w: feed %q has no staticURL", ErrNoSource, feed.Name)
		}
		return &gtfs.ZipSource{Location: feed.GTFS.StaticURL, Fetcher: deps.fetcher(StaticFetchTimeout)}, nil
	})
	reg.Register(StageGTFSDecode, func(feed config.Feed) (any, error) {
		return &gtfs.Decoder{AgencyID: feed.GTFS.AgencyID}, nil
	})
	reg.Register(StageGTFSRTFeed, func(feed config.Feed) (any, error) {
		locs := feed.GTFSRT.Locations()
		if len(locs) == 0 {
			return nil, fmt.Errorf("%w: feed %q has no realtime URLs", ErrNoSource, feed.Name)
		}
		return &gtfsrt.FeedSource{Locations: locs, Fetcher: deps.fetcher(feed.GTFSRT.Timeout())}, nil
	})

	var mu sync.Mutex
	decoders := map[string]*gtfsrt.Decoder{}
	reg.Register(StageGTFSRTDecode, func(feed config.Feed) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		d, ok := decoders[feed.Name]
		if !ok {
			d = &gtfsrt.Decoder{}
			decoders[feed.Name] = d
		}
		return d, nil
	})

	if deps.Store != nil {
		reg.Register(StageSQLiteEntities, func(config.Feed) (any, error) {
			return deps.Store.EntitySink(deps.BatchSize), nil
		})
		reg.Register(StageTrackingMatch, func(config.Feed) (any, error) {
			return &tracking.Matcher{Schedule: deps.Store}, nil
		})
		reg.Register(StageSQLiteObservations, func(config.Feed) (any, error) {
			return deps.Store.ObservationSink(deps.BatchSize), nil
		})
	}
	return reg
}
