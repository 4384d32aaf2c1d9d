// Package utils holds the small helpers shared by the ingestion stages and the
// API: great-circle distance, rider-facing distance strings and the ISO-8601
// time and duration formats SIRI uses.
package utils
