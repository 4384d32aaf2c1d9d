package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
}

// StorageConfig points at the SQLite database
type StorageConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// IngestConfig contains settings shared by every pipeline run
type IngestConfig struct {
	ErrorPolicy string `yaml:"error_policy" validate:"omitempty,oneof=skip_record fail_fast"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Tracing     bool   `yaml:"tracing"`
}

// GTFSConfig contains GTFS static feed configuration
type GTFSConfig struct {
	StaticURL string `yaml:"staticURL" validate:"omitempty,location"`
	AgencyID  string `yaml:"agency_id" validate:"omitempty"`
}

// GTFSRTConfig contains GTFS-Realtime feed configuration
type GTFSRTConfig struct {
	FeedURL             string `yaml:"feedURL" validate:"omitempty,location"`
	TripUpdatesURL      string `yaml:"tripUpdatesURL" validate:"omitempty,location"`
	VehiclePositionsURL string `yaml:"vehiclePositionsURL" validate:"omitempty,location"`
	ServiceAlertsURL    string `yaml:"serviceAlertsURL" validate:"omitempty,location"`
	ReadIntervalMS      int    `yaml:"readIntervalMS" validate:"gte=0"`
	TimeoutMS           int    `yaml:"timeoutMS" validate:"gte=0"`
}

// Locations returns the configured realtime endpoints in a stable order.
func (c GTFSRTConfig) Locations() []string {
	var out []string
	for _, u := range []string{c.FeedURL, c.TripUpdatesURL, c.VehiclePositionsURL, c.ServiceAlertsURL} {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (c GTFSRTConfig) ReadInterval() time.Duration {
	return time.Duration(c.ReadIntervalMS) * time.Millisecond
}

func (c GTFSRTConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Feed represents a single GTFS feed configuration
type Feed struct {
	Name   string       `yaml:"name" validate:"required"`
	GTFS   GTFSConfig   `yaml:"gtfs"`
	GTFSRT GTFSRTConfig `yaml:"gtfsrt"`
}

// StageRef is one entry of a pipeline definition. In YAML it is either the
// registry key alone or a mapping:
//
//   - gtfs.zip
//   - stage: gtfs.decode
//     name: decode
//     parallelism: 4
//     queue_size: 256
type StageRef struct {
	Name        string `yaml:"name"`
	Stage       string `yaml:"stage" validate:"required"`
	Parallelism int    `yaml:"parallelism" validate:"gte=0"`
	QueueSize   int    `yaml:"queue_size" validate:"gte=0"`
}

// UnmarshalYAML accepts a bare registry key or a mapping.
func (s *StageRef) UnmarshalYAML(value *yaml.Node) error {
	var key string
	if err := value.Decode(&key); err == nil {
		*s = StageRef{Name: key, Stage: key}
		return nil
	}
	type raw StageRef
	if err := value.Decode((*raw)(s)); err != nil {
		return err
	}
	if s.Name == "" {
		s.Name = s.Stage
	}
	return nil
}

// PipelineConfig is an ordered list of stages
type PipelineConfig struct {
	Stages []StageRef `yaml:"stages" validate:"min=2,dive"`
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Server    ServerConfig              `yaml:"server"`
	Storage   StorageConfig             `yaml:"storage"`
	Ingest    IngestConfig              `yaml:"ingest"`
	GTFS      GTFSConfig                `yaml:"gtfs"`
	GTFSRT    GTFSRTConfig              `yaml:"gtfsrt"`
	Feeds     []Feed                    `yaml:"feeds" validate:"dive"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines" validate:"dive"`
}
