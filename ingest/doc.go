// Package ingest assembles pipelines from configuration and runs them.
//
// A Registry maps stage keys ("gtfs.zip", "tracking.match", ...) to factories
// that build a stage for one feed. Build turns a config.PipelineConfig into
// the []pipeline.StageSpec handed to pipeline.New, and the Runner drives the
// static and realtime jobs of every configured feed.
package ingest
