package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/ingest"
	"github.com/theoremus-urban-solutions/gtfs-ingest/siri"
	"github.com/theoremus-urban-solutions/gtfs-ingest/storage/sqlite"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

const (
	defaultStopLimit = 10
	maxStopLimit     = 100
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// storeError maps sqlite.ErrNotFound to 404 and anything else to 500.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, err)
}

type healthResponse struct {
	Status                  string           `json:"status"`
	LatestGTFSRealtimeEpoch int64            `json:"latest_gtfsrt_epoch"`
	Counts                  map[string]int64 `json:"counts,omitempty"`
	Error                   string           `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	resp := healthResponse{Status: "ok"}
	var err error
	if resp.LatestGTFSRealtimeEpoch, err = s.store.LatestRealtimeEpoch(ctx); err != nil {
		s.storeError(w, r, err)
		return
	}
	if resp.Counts, err = s.store.Counts(ctx); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stop, err := s.store.GetStop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stop)
}

func (s *Server) handleNearestStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || !utils.ValidCoordinate(lat, 0) {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid lat %q", q.Get("lat")))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || !utils.ValidCoordinate(0, lon) {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid lon %q", q.Get("lon")))
		return
	}
	limit := defaultStopLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(limit, maxStopLimit)
	}
	stops, err := s.store.NearestStops(r.Context(), lat, lon, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if stops == nil {
		stops = []sqlite.StopDistance{}
	}
	writeJSON(w, http.StatusOK, stops)
}

type tripResponse struct {
	sqlite.TripDetail
	Realtime *tracking.TripInstance `json:"realtime,omitempty"`
}

func (s *Server) handleTrip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	detail, err := s.store.GetTrip(ctx, id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	resp := tripResponse{TripDetail: detail}
	ti, err := s.store.GetTripInstance(ctx, id, r.URL.Query().Get("service_date"))
	switch {
	case err == nil:
		resp.Realtime = &ti
	case !errors.Is(err, sqlite.ErrNotFound):
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.store.ListVehicles(r.Context(), r.URL.Query().Get("route"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if vehicles == nil {
		vehicles = []tracking.VehicleState{}
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// activeEpoch is now unless ?all=true asks for every stored alert.
func (s *Server) activeEpoch(r *http.Request) int64 {
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		return 0
	}
	return s.now().Unix()
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context(), s.activeEpoch(r))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []gtfsrt.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	status := []ingest.JobStatus{}
	if s.jobs != nil {
		status = s.jobs.Status()
	}
	writeJSON(w, http.StatusOK, status)
}

// siriOptions resolves the agency timezone for service-day arithmetic.
func (s *Server) siriOptions(r *http.Request) siri.Options {
	o := s.siri
	if o.Location != nil {
		return o
	}
	if tz, err := s.store.AgencyTimezone(r.Context()); err == nil && tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			o.Location = loc
		}
	}
	return o
}

func (s *Server) handleVehicleMonitoring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vehicles, err := s.store.ListVehicles(ctx, r.URL.Query().Get("route"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	journeys := make([]siri.Journey, 0, len(vehicles))
	for _, v := range vehicles {
		j := siri.Journey{Vehicle: v}
		detail, err := s.store.GetTrip(ctx, v.TripID)
		switch {
		case err == nil:
			j.Trip, j.Route, j.Stops = detail.Trip, detail.Route, detail.Stops
		case !errors.Is(err, sqlite.ErrNotFound):
			s.storeError(w, r, err)
			return
		}
		ti, err := s.store.GetTripInstance(ctx, v.TripID, v.ServiceDate)
		switch {
		case err == nil:
			delay := ti.DelaySeconds
			j.Delay = &delay
		case !errors.Is(err, sqlite.ErrNotFound):
			s.storeError(w, r, err)
			return
		}
		journeys = append(journeys, j)
	}
	writeJSON(w, http.StatusOK, siri.BuildVehicleMonitoring(journeys, s.siriOptions(r), s.now()))
}

func (s *Server) handleSituationExchange(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context(), s.activeEpoch(r))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, siri.BuildSituationExchange(alerts, s.siriOptions(r), s.now()))
}
