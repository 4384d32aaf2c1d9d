/*
Package gtfs streams and decodes GTFS static feeds.

A feed is read as two pipeline stages. ZipSource fetches the archive from a URL
or a local path and emits one Row per CSV record, file by file in dependency
order. Decoder turns each Row into a typed Entity (Agency, Route, Stop, Trip,
StopTime, ShapePoint or Calendar); malformed rows are handed to the run's error
policy.

	stages := []pipeline.StageSpec{
		{Name: "zip", Stage: &gtfs.ZipSource{Location: url, Fetcher: fetch.New(timeout)}},
		{Name: "decode", Stage: &gtfs.Decoder{AgencyID: "METRO"}, Parallelism: 4},
		{Name: "store", Stage: store.EntitySink(500)},
	}

# Times

Stop times are kept as seconds since the start of the service day; hours may
exceed 23. ServiceDayTime resolves them against a service date using the GTFS
rule that the day starts at noon minus twelve hours, so wall-clock times stay
correct across daylight saving transitions.

# Geometry

Path holds a polyline with cumulative haversine distances. Project snaps a
vehicle position onto it and PointAt interpolates back from a distance.
*/
package gtfs
