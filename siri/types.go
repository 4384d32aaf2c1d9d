package siri

import (
	"time"

	"github.com/theoremus-urban-solutions/transit-types/siri"
)

// Response is the top-level SIRI response structure
type Response struct {
	Siri ServiceDeliveryEnvelope `json:"Siri"`
}

// ServiceDeliveryEnvelope wraps the ServiceDelivery element
type ServiceDeliveryEnvelope struct {
	ServiceDelivery ServiceDelivery `json:"ServiceDelivery"`
}

// ServiceDelivery contains all SIRI delivery types. Estimated timetables are
// not produced; the element is kept empty for consumers expecting it.
type ServiceDelivery struct {
	ResponseTimestamp          string                            `json:"ResponseTimestamp"`
	ProducerRef                string                            `json:"ProducerRef,omitempty"`
	VehicleMonitoringDelivery  []VehicleMonitoring               `json:"VehicleMonitoringDelivery"`
	SituationExchangeDelivery  []SituationExchangeDelivery       `json:"SituationExchangeDelivery"`
	EstimatedTimetableDelivery []siri.EstimatedTimetableDelivery `json:"EstimatedTimetableDelivery"`
}

// Options control reference prefixes and validity windows.
type Options struct {
	// Codespace prefixes every reference; "UNKNOWN" when empty.
	Codespace string
	// ReadInterval is how long a delivery stays valid.
	ReadInterval time.Duration
	// Location interprets service days; UTC when nil.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func (o Options) codespace() string {
	if o.Codespace == "" {
		return "UNKNOWN"
	}
	return o.Codespace
}

func (o Options) ref(kind, id string) string {
	if id == "" {
		return ""
	}
	return o.codespace() + ":" + kind + ":" + id
}

func newResponse(o Options, now time.Time) Response {
	return Response{Siri: ServiceDeliveryEnvelope{ServiceDelivery: ServiceDelivery{
		ResponseTimestamp:          now.UTC().Format(time.RFC3339),
		ProducerRef:                o.codespace(),
		VehicleMonitoringDelivery:  []VehicleMonitoring{},
		SituationExchangeDelivery:  []SituationExchangeDelivery{},
		EstimatedTimetableDelivery: []siri.EstimatedTimetableDelivery{},
	}}}
}
