// Package gtfsrt polls GTFS-Realtime endpoints and decodes their protobuf
// payloads into vehicle positions, trip updates and service alerts.
//
// FeedSource and Decoder are pipeline stages: the source emits a Payload per
// endpoint and poll, the decoder emits one Update per feed entity.
package gtfsrt
