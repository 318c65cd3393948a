package model

import "fmt"

// RoomKind distinguishes the two fan-out namespaces (spec §3).
type RoomKind int

const (
	RoomGeohash RoomKind = iota
	RoomProject
)

// Room is the in-process representation of a fan-out bucket. The KV schema
// (§6) still uses the "geohash:"/"project:" string prefixes on the wire;
// in memory rooms are a two-field record per spec §9's redesign note on
// string symbol keys.
type Room struct {
	Kind RoomKind
	Key  string
}

func GeohashRoom(prefix string) Room  { return Room{Kind: RoomGeohash, Key: prefix} }
func ProjectRoom(id string) Room      { return Room{Kind: RoomProject, Key: id} }

// String renders the KV key name for this room, without the "parkbeat:"
// store-level prefix.
func (r Room) String() string {
	switch r.Kind {
	case RoomProject:
		return fmt.Sprintf("project:%s", r.Key)
	default:
		return fmt.Sprintf("geohash:%s", r.Key)
	}
}

// Socket is the ephemeral per-connection identity (spec §3). Destroyed on
// disconnect; never persisted beyond the registry's bookkeeping keys.
type Socket struct {
	ID          string
	UserID      string
	ConnectedAt int64 // unix millis
}
