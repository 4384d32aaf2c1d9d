package siri

import (
	"time"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

// SituationExchangeDelivery represents the SIRI-SX delivery structure
// Based on SIRI-SX specification v1.1 (Entur Nordic Profile)
type SituationExchangeDelivery struct {
	Version           string               `json:"version"`
	ResponseTimestamp string               `json:"ResponseTimestamp"`
	Situations        []PtSituationElement `json:"Situations"`
}

// PtSituationElement represents a single public transport situation (alert/disruption)
type PtSituationElement struct {
	CreationTime    string                  `json:"CreationTime"`
	ParticipantRef  string                  `json:"ParticipantRef"`
	SituationNumber string                  `json:"SituationNumber"`
	Source          SituationSource         `json:"Source"`
	Progress        string                  `json:"Progress"` // open|closed
	ValidityPeriod  []ValidityPeriod        `json:"ValidityPeriod"`
	Severity        string                  `json:"Severity,omitempty"`
	ReportType      string                  `json:"ReportType"` // general|incident
	Summary         []NaturalLanguageString `json:"Summary,omitempty"`
	Description     []NaturalLanguageString `json:"Description,omitempty"`
	Affects         *Affects                `json:"Affects,omitempty"`
	Consequences    []Consequence           `json:"Consequences,omitempty"`
	InfoLinks       []InfoLink              `json:"InfoLinks,omitempty"`
}

// SituationSource represents the source of the situation message
type SituationSource struct {
	SourceType string `json:"SourceType"`
}

// ValidityPeriod represents a time period with start and optional end time
type ValidityPeriod struct {
	StartTime string `json:"StartTime"`
	EndTime   string `json:"EndTime,omitempty"`
}

// NaturalLanguageString represents text with a language attribute
type NaturalLanguageString struct {
	Lang string `json:"lang,omitempty"`
	Text string `json:"text"`
}

// InfoLink represents a URL
type InfoLink struct {
	Uri string `json:"Uri"`
}

// Affects represents the scope of the situation
type Affects struct {
	Networks        []AffectedNetwork        `json:"Networks,omitempty"`
	StopPoints      []AffectedStopPoint      `json:"StopPoints,omitempty"`
	VehicleJourneys []AffectedVehicleJourney `json:"VehicleJourneys,omitempty"`
}

// AffectedNetwork represents an affected network
type AffectedNetwork struct {
	NetworkRef    string         `json:"NetworkRef,omitempty"`
	AffectedLines []AffectedLine `json:"AffectedLine,omitempty"`
}

// AffectedLine represents an affected line/route
type AffectedLine struct {
	LineRef string `json:"LineRef"`
}

// AffectedStopPoint represents an affected stop
type AffectedStopPoint struct {
	StopPointRef string `json:"StopPointRef"`
}

// AffectedVehicleJourney represents an affected vehicle journey
type AffectedVehicleJourney struct {
	DatedVehicleJourneyRef string `json:"DatedVehicleJourneyRef,omitempty"`
}

// Consequence represents a single consequence
type Consequence struct {
	Condition string `json:"Condition"`
}

// BuildSituationExchange renders alerts as an SX delivery. Alerts whose end
// lies before now are reported as closed.
func BuildSituationExchange(alerts []gtfsrt.Alert, o Options, now time.Time) Response {
	resp := newResponse(o, now)
	sx := SituationExchangeDelivery{
		Version:           "2.0",
		ResponseTimestamp: resp.Siri.ServiceDelivery.ResponseTimestamp,
		Situations:        make([]PtSituationElement, 0, len(alerts)),
	}
	for _, a := range alerts {
		sx.Situations = append(sx.Situations, situation(a, o, now))
	}
	resp.Siri.ServiceDelivery.SituationExchangeDelivery = append(resp.Siri.ServiceDelivery.SituationExchangeDelivery, sx)
	return resp
}

func situation(a gtfsrt.Alert, o Options, now time.Time) PtSituationElement {
	severity, prefix := effectSeverity(a.Effect)
	created := a.FeedTimestamp
	if created == 0 {
		created = now.Unix()
	}
	el := PtSituationElement{
		CreationTime:    utils.FormatUnix(created),
		ParticipantRef:  o.codespace(),
		SituationNumber: o.ref("SituationNumber", a.ID),
		Source:          SituationSource{SourceType: "directReport"},
		Progress:        "open",
		Severity:        severity,
		ReportType:      reportType(a.Cause),
		Summary:         []NaturalLanguageString{{Text: a.Header}},
	}
	if a.Header == "" {
		el.Summary[0].Text = causeSummary(a.Cause)
	}
	desc := a.Description
	if prefix != "" && desc != "" {
		desc = prefix + ": " + desc
	}
	if desc != "" {
		el.Description = []NaturalLanguageString{{Text: desc}}
	}
	if a.URL != "" {
		el.InfoLinks = []InfoLink{{Uri: a.URL}}
	}

	period := ValidityPeriod{StartTime: utils.FormatUnix(created)}
	if a.Start > 0 {
		period.StartTime = utils.FormatUnix(a.Start)
	}
	if a.End > 0 {
		period.EndTime = utils.FormatUnix(a.End)
		if a.End < now.Unix() {
			el.Progress = "closed"
		}
	}
	el.ValidityPeriod = []ValidityPeriod{period}

	var affects Affects
	if len(a.RouteIDs) > 0 {
		network := AffectedNetwork{NetworkRef: o.ref("Network", o.codespace())}
		for _, rid := range a.RouteIDs {
			network.AffectedLines = append(network.AffectedLines, AffectedLine{LineRef: o.ref("Line", rid)})
		}
		affects.Networks = []AffectedNetwork{network}
	}
	for _, sid := range a.StopIDs {
		affects.StopPoints = append(affects.StopPoints, AffectedStopPoint{StopPointRef: o.ref("Quay", sid)})
	}
	for _, tid := range a.TripIDs {
		affects.VehicleJourneys = append(affects.VehicleJourneys, AffectedVehicleJourney{DatedVehicleJourneyRef: o.ref("ServiceJourney", tid)})
	}
	if len(affects.Networks)+len(affects.StopPoints)+len(affects.VehicleJourneys) > 0 {
		el.Affects = &affects
	}
	if cond := effectCondition(a.Effect); cond != "" {
		el.Consequences = []Consequence{{Condition: cond}}
	}
	return el
}

// effectSeverity maps a GTFS-RT effect to a SIRI severity and an optional
// description prefix.
func effectSeverity(effect string) (string, string) {
	switch effect {
	case "NO_SERVICE":
		return "noService", ""
	case "REDUCED_SERVICE", "SIGNIFICANT_DELAYS":
		return "severe", ""
	case "DETOUR", "STOP_MOVED":
		return "slight", ""
	case "ADDITIONAL_SERVICE":
		return "normal", ""
	case "MODIFIED_SERVICE":
		return "slight", "Modified Service"
	case "OTHER_EFFECT":
		return "undefined", "Other"
	case "NO_EFFECT":
		return "noImpact", ""
	case "ACCESSIBILITY_ISSUE":
		return "undefined", "Accessibility Issue"
	default:
		return "undefined", ""
	}
}

func effectCondition(effect string) string {
	switch effect {
	case "NO_SERVICE":
		return "NoService"
	case "REDUCED_SERVICE":
		return "ReducedService"
	case "SIGNIFICANT_DELAYS":
		return "SevereDelays"
	case "DETOUR":
		return "Diversion"
	default:
		return ""
	}
}

func causeSummary(cause string) string {
	switch cause {
	case "OTHER_CAUSE":
		return "Other cause"
	case "TECHNICAL_PROBLEM":
		return "Technical problem"
	case "STRIKE":
		return "Strike or unavailable staff"
	case "DEMONSTRATION":
		return "Demonstration"
	case "ACCIDENT":
		return "Accident"
	case "HOLIDAY":
		return "Holiday"
	case "WEATHER":
		return "Weather related"
	case "MAINTENANCE":
		return "Maintenance"
	case "CONSTRUCTION":
		return "Construction work"
	case "POLICE_ACTIVITY":
		return "Police activity"
	case "MEDICAL_EMERGENCY":
		return "Medical emergency"
	default:
		return "Unknown cause"
	}
}

func reportType(cause string) string {
	switch cause {
	case "STRIKE", "ACCIDENT", "POLICE_ACTIVITY", "MEDICAL_EMERGENCY":
		return "incident"
	default:
		return "general"
	}
}
