// Package tracking matches GTFS-Realtime updates against the static schedule.
//
// Matcher is a pipeline Transformer. Vehicle positions are projected onto the
// polyline of their trip's stops to find the nearest and next stop; trip
// updates become trip instances with a scheduled and expected arrival per
// stop, where a known delay carries forward to later stops without a
// prediction. Alerts pass through unchanged.
package tracking
