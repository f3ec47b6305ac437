package domain

type SessionState string

const (
	StateConnected SessionState = "connected"
	StateJoined    SessionState = "joined"
	StateLeaving   SessionState = "leaving"
	StateClosed    SessionState = "closed"
)

// PeerInfo is the public view of a room member sent to other members.
type PeerInfo struct {
	ID         PeerID `json:"id"`
	UserID     UserID `json:"uid"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	HandRaised bool   `json:"handRaised"`
}

// JoinResult is returned to a client that joined a room.
type JoinResult struct {
	PeerID          PeerID          `json:"peerId"`
	Role            Role            `json:"role"`
	RtpCapabilities RtpCapabilities `json:"rtpCapabilities"`
	Peers           []PeerInfo      `json:"peers"`
	Producers       []ProducerInfo  `json:"producers"`
}
