package services

import (
	"context"
	"testing"

	"meetsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntrospectionService(t *testing.T) {
	s := newTestStack(t, stackOptions{workers: 1})
	svc := NewIntrospectionService(s.registry, s.pool, s.rooms)
	ctx := context.Background()

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	producerID := s.produce(t, "a", send, domain.KindAudio, "")

	assert.Equal(t, []string{string(send)}, svc.List(domain.HandleTransport))
	assert.Equal(t, []string{string(producerID)}, svc.List(domain.HandleProducer))

	dump, err := svc.Dump(ctx, domain.HandleProducer, LatestID)
	require.NoError(t, err)
	assert.NotEmpty(t, dump)

	_, err = svc.Stats(ctx, domain.HandleConsumer, LatestID)
	assert.ErrorIs(t, err, domain.ErrConsumerNotFound)

	workers := svc.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, 1, workers[0].Routers)

	rooms := svc.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].PeerCount)
	assert.Equal(t, domain.RoleHost, rooms[0].Peers[0].Role)

	room, err := svc.Room("room-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ProducerID{producerID}, room.Peers[0].Producers)

	_, err = svc.Room("missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	counts := svc.Counts()
	assert.Equal(t, 1, counts[domain.HandleWorker])
	assert.Equal(t, 1, counts[domain.HandleRouter])
	assert.Equal(t, 1, counts[domain.HandleProducer])
}
