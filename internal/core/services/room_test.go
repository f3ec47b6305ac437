package services

import (
	"context"
	"testing"

	"meetsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRoom(t *testing.T, settings domain.RoomSettings) *Room {
	t.Helper()
	worker := newTestWorker(t)
	router, err := worker.CreateRouter(context.Background(), nil)
	require.NoError(t, err)
	if settings.ID == "" {
		settings.ID = "room-1"
	}
	return newRoom(settings, worker, router)
}

func TestRoom_AddPeerRoles(t *testing.T) {
	tests := []struct {
		name            string
		settings        domain.RoomSettings
		firstJoinerHost bool
		identity        domain.Identity
		wantRole        domain.Role
	}{
		{"guest by default", domain.RoomSettings{}, false, domain.Identity{UserID: "u1"}, domain.RoleGuest},
		{"first joiner", domain.RoomSettings{}, true, domain.Identity{UserID: "u1"}, domain.RoleHost},
		{"host uid", domain.RoomSettings{HostUID: "owner"}, false, domain.Identity{UserID: "owner"}, domain.RoleHost},
		{"host uid wins over first joiner", domain.RoomSettings{HostUID: "owner"}, true, domain.Identity{UserID: "u1"}, domain.RoleGuest},
		{"host claim", domain.RoomSettings{}, false, domain.Identity{UserID: "u1", Host: true}, domain.RoleHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom(t, tt.settings)
			p := NewPeer("p1", room.ID(), tt.identity, nil, zaptest.NewLogger(t).Sugar())
			require.NoError(t, room.addPeer(p, tt.firstJoinerHost))
			assert.Equal(t, tt.wantRole, p.Role())
		})
	}
}

func TestRoom_OnlyFirstJoinerIsHost(t *testing.T) {
	room := newTestRoom(t, domain.RoomSettings{})

	a := newTestPeer(t, "a", nil)
	b := newTestPeer(t, "b", nil)
	require.NoError(t, room.addPeer(a, true))
	require.NoError(t, room.addPeer(b, true))
	assert.True(t, a.IsHost())
	assert.False(t, b.IsHost())

	assert.ErrorIs(t, room.addPeer(a, true), domain.ErrAlreadyJoined)
}

func TestRoom_Admission(t *testing.T) {
	room := newTestRoom(t, domain.RoomSettings{MaxPeers: 2})

	require.NoError(t, room.addPeer(newTestPeer(t, "a", nil), true))
	require.NoError(t, room.addPeer(newTestPeer(t, "b", nil), true))
	assert.ErrorIs(t, room.addPeer(newTestPeer(t, "c", nil), true), domain.ErrRoomFull)

	assert.True(t, room.removePeer("b"))
	assert.False(t, room.removePeer("b"))

	assert.True(t, room.SetLocked(true))
	assert.False(t, room.SetLocked(true))
	assert.ErrorIs(t, room.addPeer(newTestPeer(t, "c", nil), true), domain.ErrRoomLocked)

	host := NewPeer("h", room.ID(), domain.Identity{UserID: "uh", Host: true}, nil, zaptest.NewLogger(t).Sugar())
	assert.NoError(t, room.addPeer(host, true))

	room.markClosed()
	assert.ErrorIs(t, room.addPeer(newTestPeer(t, "d", nil), true), domain.ErrRoomNotFound)
}

func TestRoom_OrderAndProducers(t *testing.T) {
	room := newTestRoom(t, domain.RoomSettings{})
	ctx := context.Background()

	var peers []*Peer
	for _, id := range []domain.PeerID{"c", "a", "b"} {
		p := newTestPeer(t, id, nil)
		require.NoError(t, room.addPeer(p, false))
		peers = append(peers, p)
	}

	var order []domain.PeerID
	for _, p := range room.Peers() {
		order = append(order, p.ID())
	}
	assert.Equal(t, []domain.PeerID{"c", "a", "b"}, order)
	assert.Len(t, room.PeersExcept("a"), 2)

	send := addTransport(t, room.Router(), peers[0], domain.DirectionSend)
	mic, err := peers[0].CreateProducer(ctx, send.ID(), domain.KindAudio, opusParams, domain.SourceMic, true)
	require.NoError(t, err)

	infos := room.ProducersExcept("a")
	require.Len(t, infos, 1)
	assert.Equal(t, domain.ProducerInfo{ProducerID: mic.ID(), PeerID: "c", Kind: domain.KindAudio, Source: domain.SourceMic, Paused: true}, infos[0])
	assert.Empty(t, room.ProducersExcept("c"))

	dump := room.Dump()
	assert.Equal(t, domain.RoomID("room-1"), dump.ID)
	assert.Equal(t, room.Router().ID(), dump.RouterID)
	assert.Equal(t, 3, dump.PeerCount)
	require.Len(t, dump.Peers, 3)
	assert.Equal(t, domain.PeerID("c"), dump.Peers[0].ID)
	assert.Equal(t, []domain.ProducerID{mic.ID()}, dump.Peers[0].Producers)
}
