package ingest

import (
	"fmt"

	"github.com/theoremus-urban-solutions/gtfs-ingest/config"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

// Pipeline names understood by the Runner.
const (
	PipelineStatic   = "static"
	PipelineRealtime = "realtime"
)

// DefaultPipelines returns the built-in static and realtime definitions.
func DefaultPipelines() map[string]config.PipelineConfig {
	return map[string]config.PipelineConfig{
		PipelineStatic: {Stages: []config.StageRef{
			{Name: "zip", Stage: StageGTFSZip},
			{Name: "decode", Stage: StageGTFSDecode, Parallelism: 4, QueueSize: 256},
			{Name: "entities", Stage: StageSQLiteEntities, QueueSize: 1024},
		}},
		PipelineRealtime: {Stages: []config.StageRef{
			{Name: "feed", Stage: StageGTFSRTFeed},
			{Name: "decode", Stage: StageGTFSRTDecode},
			{Name: "match", Stage: StageTrackingMatch, Parallelism: 2},
			{Name: "observations", Stage: StageSQLiteObservations},
		}},
	}
}

// MergePipelines overlays configured definitions on the defaults.
func MergePipelines(configured map[string]config.PipelineConfig) map[string]config.PipelineConfig {
	out := DefaultPipelines()
	for name, def := range configured {
		out[name] = def
	}
	return out
}

// Build turns a pipeline definition into stage specs for feed. Type
// compatibility between stages is checked later by pipeline.New.
func Build(reg *Registry, feed config.Feed, def config.PipelineConfig) ([]pipeline.StageSpec, error) {
	specs := make([]pipeline.StageSpec, 0, len(def.Stages))
	for i, ref := range def.Stages {
		factory, ok := reg.Get(ref.Stage)
		if !ok {
			return nil, fmt.Errorf("stage %d: %q: %w", i, ref.Stage, ErrUnknownStage)
		}
		stage, err := factory(feed)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%q): %w", i, ref.Stage, err)
		}
		name := ref.Name
		if name == "" {
			name = ref.Stage
		}
		specs = append(specs, pipeline.StageSpec{
			Name:        name,
			Stage:       stage,
			Parallelism: ref.Parallelism,
			QueueSize:   ref.QueueSize,
		})
	}
	return specs, nil
}
