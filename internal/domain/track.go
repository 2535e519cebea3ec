package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// SinkKey identifies one inbound audio track within the sink registry.
type SinkKey string

// NewSinkKey builds the composite key used by the sink registry.
func NewSinkKey(identity, trackID string) SinkKey {
	return SinkKey(identity + "-" + trackID)
}
