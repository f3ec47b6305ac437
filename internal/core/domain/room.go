package domain

import "time"

type RoomID string
type PeerID string

// RoomSettings come from the room directory and bound admission.
type RoomSettings struct {
	ID        RoomID    `json:"id"`
	HostUID   UserID    `json:"hostUid,omitempty"`
	MaxPeers  int       `json:"maxPeers,omitempty"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"createdAt"`
}

type PeerDump struct {
	ID         PeerID        `json:"id"`
	UserID     UserID        `json:"uid"`
	Name       string        `json:"name"`
	Role       Role          `json:"role"`
	HandRaised bool          `json:"handRaised"`
	Transports []TransportID `json:"transports"`
	Producers  []ProducerID  `json:"producers"`
	Consumers  []ConsumerID  `json:"consumers"`
}

type RoomDump struct {
	ID        RoomID     `json:"id"`
	RouterID  RouterID   `json:"routerId"`
	WorkerID  WorkerID   `json:"workerId"`
	Locked    bool       `json:"locked"`
	MaxPeers  int        `json:"maxPeers"`
	HostUID   UserID     `json:"hostUid,omitempty"`
	PeerCount int        `json:"peerCount"`
	Peers     []PeerDump `json:"peers"`
	CreatedAt time.Time  `json:"createdAt"`
}
