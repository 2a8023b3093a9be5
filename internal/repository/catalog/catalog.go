package catalog

import "errors"

var ErrTrackNotFound = errors.New("track not found")

type Track struct {
	Title    string  `redis:"title"`
	Artist   string  `redis:"artist"`
	Album    string  `redis:"album"`
	Duration float64 `redis:"duration"`
}

type SetTrackParams struct {
	TrackId  string
	Title    string
	Artist   string
	Album    *string
	Duration float64
}
