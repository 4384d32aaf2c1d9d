package testutil

import (
	"testing"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// FeedBytes marshals a full-dataset FeedMessage stamped with ts.
func FeedBytes(t testing.TB, ts uint64, entities ...*gtfsrtpb.FeedEntity) []byte {
	t.Helper()
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
		Entity: entities,
	}
	b, err := proto.Marshal(fm)
	if err != nil {
		t.Fatalf("Failed to marshal feed: %v", err)
	}
	return b
}

// VehicleEntity is a vehicle position on tripID.
func VehicleEntity(vehicleID, tripID, startDate string, lat, lon float32, ts uint64) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String("vp-" + vehicleID),
		Vehicle: &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId:    proto.String(tripID),
				RouteId:   proto.String("R1"),
				StartDate: proto.String(startDate),
			},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(vehicleID),
				Label: proto.String("Bus " + vehicleID),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(lat),
				Longitude: proto.Float32(lon),
				Bearing:   proto.Float32(45),
			},
			Timestamp: proto.Uint64(ts),
		},
	}
}

// TripUpdateEntity is a trip update carrying updates in order.
func TripUpdateEntity(tripID, startDate string, updates ...*gtfsrtpb.TripUpdate_StopTimeUpdate) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String("tu-" + tripID),
		TripUpdate: &gtfsrtpb.TripUpdate{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId:    proto.String(tripID),
				RouteId:   proto.String("R1"),
				StartDate: proto.String(startDate),
			},
			Vehicle:        &gtfsrtpb.VehicleDescriptor{Id: proto.String("V1")},
			StopTimeUpdate: updates,
		},
	}
}

// DelayUpdate is a stop time update with an arrival delay in seconds.
func DelayUpdate(seq uint32, stopID string, delay int32) *gtfsrtpb.TripUpdate_StopTimeUpdate {
	return &gtfsrtpb.TripUpdate_StopTimeUpdate{
		StopSequence: proto.Uint32(seq),
		StopId:       proto.String(stopID),
		Arrival:      &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(delay)},
	}
}

// TimeUpdate is a stop time update with an absolute arrival time.
func TimeUpdate(seq uint32, stopID string, epoch int64) *gtfsrtpb.TripUpdate_StopTimeUpdate {
	return &gtfsrtpb.TripUpdate_StopTimeUpdate{
		StopSequence: proto.Uint32(seq),
		StopId:       proto.String(stopID),
		Arrival:      &gtfsrtpb.TripUpdate_StopTimeEvent{Time: proto.Int64(epoch)},
	}
}

// AlertEntity is an alert informing routeID, active from start to end.
func AlertEntity(id, header, routeID string, start, end uint64) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String(id),
		Alert: &gtfsrtpb.Alert{
			ActivePeriod:    []*gtfsrtpb.TimeRange{{Start: proto.Uint64(start), End: proto.Uint64(end)}},
			InformedEntity:  []*gtfsrtpb.EntitySelector{{RouteId: proto.String(routeID)}},
			Cause:           gtfsrtpb.Alert_CONSTRUCTION.Enum(),
			Effect:          gtfsrtpb.Alert_DETOUR.Enum(),
			HeaderText:      translated(header),
			DescriptionText: translated(header + " until further notice"),
		},
	}
}

func translated(text string) *gtfsrtpb.TranslatedString {
	return &gtfsrtpb.TranslatedString{
		Translation: []*gtfsrtpb.TranslatedString_Translation{{Text: proto.String(text), Language: proto.String("en")}},
	}
}
