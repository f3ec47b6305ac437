package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/infrastructure/webrtc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(methods []string, method string) int {
	for i, m := range methods {
		if m == method {
			return i
		}
	}
	return -1
}

func TestSession_ProduceAndConsume(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	joinA := s.join(t, "a", "room-1")
	assert.Empty(t, joinA.Peers)
	assert.NotNil(t, joinA.Producers)
	assert.NotEmpty(t, joinA.RtpCapabilities.Codecs)

	joinB := s.join(t, "b", "room-1")
	require.Len(t, joinB.Peers, 1)
	assert.Equal(t, domain.PeerID("a"), joinB.Peers[0].ID)
	assert.Equal(t, 1, s.notes.count("a", NotifyPeerJoined))

	sendA := s.transport(t, "a", domain.DirectionSend)
	s.mustCall(t, "a", MethodConnectTransport, map[string]interface{}{"transportId": sendA, "dtlsParameters": clientDtls})
	producerID := s.produce(t, "a", sendA, domain.KindAudio, "")

	data, ok := s.notes.find("b", NotifyNewProducer)
	require.True(t, ok)
	info := data.(domain.ProducerInfo)
	assert.Equal(t, producerID, info.ProducerID)
	assert.Equal(t, domain.PeerID("a"), info.PeerID)
	assert.Equal(t, domain.SourceMic, info.Source)
	assert.Zero(t, s.notes.count("a", NotifyNewProducer))

	s.transport(t, "b", domain.DirectionRecv)
	params := s.consume(t, "b", producerID)
	assert.Equal(t, producerID, params.ProducerID)
	assert.Equal(t, domain.KindAudio, params.Kind)
	assert.Equal(t, domain.ConsumerSimple, params.Type)

	counts := s.registry.Counts()
	assert.Equal(t, 2, counts[domain.HandleTransport])
	assert.Equal(t, 1, counts[domain.HandleProducer])
	assert.Equal(t, 1, counts[domain.HandleConsumer])

	s.mustCall(t, "a", MethodCloseProducer, map[string]interface{}{"producerId": producerID})

	methods := s.notes.methods("b")
	consumerClosed := indexOf(methods, NotifyConsumerClosed)
	producerClosed := indexOf(methods, NotifyProducerClosed)
	require.NotEqual(t, -1, consumerClosed)
	require.NotEqual(t, -1, producerClosed)
	assert.Less(t, consumerClosed, producerClosed)

	peerB, ok := s.sessions.Peer("b")
	require.True(t, ok)
	assert.Zero(t, peerB.ConsumerCount())
	assert.Zero(t, s.registry.Counts()[domain.HandleConsumer])
	assert.Zero(t, s.registry.Counts()[domain.HandleProducer])
}

func TestSession_JoinSeesExistingProducers(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	mic := s.produce(t, "a", send, domain.KindAudio, domain.SourceMic)
	cam := s.produce(t, "a", send, domain.KindVideo, domain.SourceWebcam)

	res := s.join(t, "b", "room-1")
	require.Len(t, res.Producers, 2)
	ids := []domain.ProducerID{res.Producers[0].ProducerID, res.Producers[1].ProducerID}
	assert.ElementsMatch(t, []domain.ProducerID{mic, cam}, ids)
	for _, p := range res.Producers {
		assert.Equal(t, domain.PeerID("a"), p.PeerID)
	}
}

func TestSession_SourceFromAppData(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)

	s.mustCall(t, "a", MethodProduce, map[string]interface{}{
		"transportId":   send,
		"kind":          domain.KindVideo,
		"rtpParameters": vp8Params,
		"appData":       map[string]interface{}{"source": "screen"},
	})

	data, ok := s.notes.find("b", NotifyNewProducer)
	require.True(t, ok)
	assert.Equal(t, domain.SourceScreen, data.(domain.ProducerInfo).Source)
}

func TestSession_JoinOrder(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")
	res := s.join(t, "c", "room-1")

	require.Len(t, res.Peers, 2)
	assert.Equal(t, domain.PeerID("a"), res.Peers[0].ID)
	assert.Equal(t, domain.PeerID("b"), res.Peers[1].ID)

	room, ok := s.rooms.Room("room-1")
	require.True(t, ok)
	var order []domain.PeerID
	for _, p := range room.Peers() {
		order = append(order, p.ID())
	}
	assert.Equal(t, []domain.PeerID{"a", "b", "c"}, order)
}

func TestSession_DisconnectReleasesEverything(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")

	send := s.transport(t, "a", domain.DirectionSend)
	producerID := s.produce(t, "a", send, domain.KindVideo, "")
	s.transport(t, "a", domain.DirectionRecv)

	s.transport(t, "b", domain.DirectionRecv)
	s.consume(t, "b", producerID)

	s.sessions.Disconnect(context.Background(), "a")

	assert.Zero(t, s.registry.CountOwnedBy("a"))
	assert.Equal(t, 1, s.notes.count("b", NotifyPeerLeft))
	assert.Equal(t, 1, s.notes.count("b", NotifyConsumerClosed))

	peerB, ok := s.sessions.Peer("b")
	require.True(t, ok)
	assert.Zero(t, peerB.ConsumerCount())

	room, ok := s.rooms.Room("room-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.Len())

	s.sessions.Disconnect(context.Background(), "b")
	_, ok = s.rooms.Room("room-1")
	assert.False(t, ok, "room must be removed once empty")
	assert.Zero(t, s.registry.Counts()[domain.HandleRouter])
	for _, u := range s.pool.Usage() {
		assert.Zero(t, u.Routers)
	}
	assert.Zero(t, s.sessions.Sessions())
}

func TestSession_LeaveIsIdempotent(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")

	s.mustCall(t, "a", MethodLeave, nil)
	s.mustCall(t, "a", MethodLeave, nil)
	s.sessions.Disconnect(context.Background(), "a")
	s.sessions.Disconnect(context.Background(), "a")

	assert.Equal(t, 1, s.notes.count("b", NotifyPeerLeft))
	data, ok := s.notes.find("b", NotifyPeerLeft)
	require.True(t, ok)
	assert.Equal(t, PeerEvent{PeerID: "a", Reason: "leave"}, data)
}

func TestSession_LeaveThenRequests(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.mustCall(t, "a", MethodLeave, nil)

	state, ok := s.sessions.State("a")
	require.True(t, ok)
	assert.Equal(t, domain.StateClosed, state)

	_, err := s.call("a", MethodCreateTransport, map[string]interface{}{"direction": "send"})
	assert.ErrorIs(t, err, domain.ErrPeerClosed)

	_, err = s.call("a", MethodJoin, map[string]interface{}{"roomId": "room-1"})
	assert.ErrorIs(t, err, domain.ErrPeerClosed)
}

func TestSession_NoOpsOnStaleIDs(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	producerID := s.produce(t, "a", send, domain.KindAudio, "")

	s.mustCall(t, "a", MethodCloseProducer, map[string]interface{}{"producerId": producerID})
	s.mustCall(t, "a", MethodCloseProducer, map[string]interface{}{"producerId": producerID})
	s.mustCall(t, "a", MethodPauseProducer, map[string]interface{}{"producerId": producerID})
	s.mustCall(t, "a", MethodResumeProducer, map[string]interface{}{"producerId": "missing"})
	s.mustCall(t, "a", MethodPauseConsumer, map[string]interface{}{"consumerId": "missing"})
	s.mustCall(t, "a", MethodResumeConsumer, map[string]interface{}{"consumerId": "missing"})
	s.mustCall(t, "a", MethodConnectTransport, map[string]interface{}{"transportId": "missing", "dtlsParameters": clientDtls})
}

func TestSession_RequestErrors(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	_, err := s.call("ghost", MethodJoin, map[string]interface{}{"roomId": "room-1"})
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	s.connect(t, "a", "u-a")
	assert.Error(t, s.sessions.Connect(context.Background(), "a", domain.Identity{}))

	_, err = s.call("a", MethodCreateTransport, map[string]interface{}{"direction": "send"})
	assert.ErrorIs(t, err, domain.ErrPeerNotJoined)

	_, err = s.call("a", MethodJoin, map[string]interface{}{})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = s.sessions.Handle(context.Background(), "a", MethodJoin, []byte(`{"roomId":`))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = s.call("a", "teleport", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	s.mustCall(t, "a", MethodJoin, map[string]interface{}{"roomId": "room-1", "rtpCapabilities": clientCaps()})
	_, err = s.call("a", MethodJoin, map[string]interface{}{"roomId": "room-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = s.call("a", MethodCreateTransport, map[string]interface{}{"direction": "sideways"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	recv := s.transport(t, "a", domain.DirectionRecv)
	_, err = s.call("a", MethodProduce, map[string]interface{}{
		"transportId": recv, "kind": "audio", "rtpParameters": opusParams,
	})
	assert.ErrorIs(t, err, domain.ErrWrongDirection)

	_, err = s.call("a", MethodProduce, map[string]interface{}{
		"transportId": "missing", "kind": "audio", "rtpParameters": opusParams,
	})
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)

	send := s.transport(t, "a", domain.DirectionSend)
	_, err = s.call("a", MethodProduce, map[string]interface{}{
		"transportId": send, "kind": "audio", "rtpParameters": vp8Params,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = s.call("a", MethodConsume, map[string]interface{}{"producerId": "missing", "transportId": send})
	assert.ErrorIs(t, err, domain.ErrWrongDirection)

	_, err = s.call("a", MethodConsume, map[string]interface{}{"producerId": "missing"})
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
}

func TestSession_ConsumeCapabilitiesMismatch(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	cam := s.produce(t, "a", send, domain.KindVideo, "")

	s.connect(t, "b", "u-b")
	audioOnly := domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
	s.mustCall(t, "b", MethodJoin, map[string]interface{}{"roomId": "room-1", "rtpCapabilities": audioOnly})
	s.transport(t, "b", domain.DirectionRecv)

	res := s.mustCall(t, "b", MethodConsume, map[string]interface{}{"producerId": cam})
	assert.Equal(t, ConsumeSkipped{ProducerID: cam, Reason: "capabilitiesMismatch"}, res)
	assert.Equal(t, 1, s.registry.CountOwnedBy("b"), "only the transport remains")

	// explicit capabilities override the join-time ones
	params, err := s.call("b", MethodConsume, map[string]interface{}{"producerId": cam, "rtpCapabilities": clientCaps()})
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, params.(*domain.ConsumerParams).Kind)
}

func TestSession_ConsumeRequiresCapabilities(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	mic := s.produce(t, "a", send, domain.KindAudio, "")

	s.connect(t, "b", "u-b")
	s.mustCall(t, "b", MethodJoin, map[string]interface{}{"roomId": "room-1"})
	s.transport(t, "b", domain.DirectionRecv)

	_, err := s.call("b", MethodConsume, map[string]interface{}{"producerId": mic})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestSession_ProducerPauseReachesConsumers(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	producerID := s.produce(t, "a", send, domain.KindVideo, "")
	s.transport(t, "b", domain.DirectionRecv)
	consumer := s.consume(t, "b", producerID)

	s.mustCall(t, "a", MethodPauseProducer, map[string]interface{}{"producerId": producerID})
	data, ok := s.notes.find("b", NotifyProducerPaused)
	require.True(t, ok)
	assert.Equal(t, ProducerEvent{ProducerID: producerID, ConsumerID: consumer.ID}, data)

	s.mustCall(t, "a", MethodResumeProducer, map[string]interface{}{"producerId": producerID})
	assert.Equal(t, 1, s.notes.count("b", NotifyProducerResumed))

	s.mustCall(t, "b", MethodPauseConsumer, map[string]interface{}{"consumerId": consumer.ID})
	peerB, _ := s.sessions.Peer("b")
	c, ok := peerB.Consumer(consumer.ID)
	require.True(t, ok)
	assert.True(t, c.Paused())

	s.mustCall(t, "b", MethodResumeConsumer, map[string]interface{}{"consumerId": consumer.ID})
	assert.False(t, c.Paused())
}

func TestSession_RaiseHand(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")

	s.mustCall(t, "b", MethodRaiseHand, nil)
	s.mustCall(t, "b", MethodRaiseHand, map[string]interface{}{"raised": true})
	assert.Equal(t, 1, s.notes.count("a", NotifyHandRaised))
	assert.Zero(t, s.notes.count("b", NotifyHandRaised))

	s.mustCall(t, "b", MethodRaiseHand, map[string]interface{}{"raised": false})
	assert.Equal(t, 1, s.notes.count("a", NotifyHandLowered))
}

func TestSession_TransportConnectTimeout(t *testing.T) {
	blocking := func(ctx context.Context, _ *webrtc.Transport, _ domain.DtlsParameters) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s := newTestStack(t, stackOptions{handshake: blocking, connectTimeout: 50 * time.Millisecond})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	s.mustCall(t, "a", MethodConnectTransport, map[string]interface{}{"transportId": send, "dtlsParameters": clientDtls})

	require.Eventually(t, func() bool {
		return s.notes.count("a", NotifyTransportClosed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	data, _ := s.notes.find("a", NotifyTransportClosed)
	assert.Equal(t, TransportEvent{TransportID: send, Reason: "timeout"}, data)

	peer, ok := s.sessions.Peer("a")
	require.True(t, ok)
	_, ok = peer.Transport(send)
	assert.False(t, ok)
	assert.Zero(t, s.registry.Counts()[domain.HandleTransport])

	_, err := s.call("a", MethodProduce, map[string]interface{}{
		"transportId": send, "kind": "audio", "rtpParameters": opusParams,
	})
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
}

func TestSession_ConnectedTransportSurvivesTimeout(t *testing.T) {
	s := newTestStack(t, stackOptions{connectTimeout: 30 * time.Millisecond})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	s.mustCall(t, "a", MethodConnectTransport, map[string]interface{}{"transportId": send, "dtlsParameters": clientDtls})

	peer, _ := s.sessions.Peer("a")
	tr, ok := peer.Transport(send)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return tr.State() == domain.TransportConnected
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, s.notes.count("a", NotifyTransportClosed))
	_, ok = peer.Transport(send)
	assert.True(t, ok)
}

func TestSession_HandshakeFailureClosesTransport(t *testing.T) {
	failing := func(context.Context, *webrtc.Transport, domain.DtlsParameters) error {
		return errors.New("dtls alert")
	}
	s := newTestStack(t, stackOptions{handshake: failing})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	s.mustCall(t, "a", MethodConnectTransport, map[string]interface{}{"transportId": send, "dtlsParameters": clientDtls})

	require.Eventually(t, func() bool {
		return s.notes.count("a", NotifyTransportClosed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	data, _ := s.notes.find("a", NotifyTransportClosed)
	assert.Equal(t, TransportEvent{TransportID: send, Reason: "failed"}, data)
}

func TestSession_RoomFull(t *testing.T) {
	s := newTestStack(t, stackOptions{policy: RoomPolicy{
		AutoCreate: true,
		MaxPeers:   1,
		Codecs:     webrtc.DefaultCodecs(),
	}})

	s.join(t, "a", "room-1")
	s.connect(t, "b", "u-b")
	_, err := s.call("b", MethodJoin, map[string]interface{}{"roomId": "room-1"})
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	state, _ := s.sessions.State("b")
	assert.Equal(t, domain.StateConnected, state)

	room, ok := s.rooms.Room("room-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.Len())
}

func TestSession_UnknownRoomWithoutAutoCreate(t *testing.T) {
	s := newTestStack(t, stackOptions{policy: RoomPolicy{Codecs: webrtc.DefaultCodecs()}})

	s.connect(t, "a", "u-a")
	_, err := s.call("a", MethodJoin, map[string]interface{}{"roomId": "nowhere"})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Empty(t, s.rooms.Rooms())
	assert.Zero(t, s.registry.Counts()[domain.HandleRouter])
}

func TestSession_ConcurrentJoinsShareOneRouter(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	const peers = 8
	for i := 0; i < peers; i++ {
		s.connect(t, domain.PeerID(fmt.Sprintf("p%d", i)), domain.UserID(fmt.Sprintf("u%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, peers)
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(id domain.PeerID) {
			defer wg.Done()
			_, err := s.call(id, MethodJoin, map[string]interface{}{"roomId": "busy"})
			errs <- err
		}(domain.PeerID(fmt.Sprintf("p%d", i)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	room, ok := s.rooms.Room("busy")
	require.True(t, ok)
	assert.Equal(t, peers, room.Len())
	assert.Equal(t, 1, s.registry.Counts()[domain.HandleRouter])

	hosts := 0
	for _, p := range room.Peers() {
		if p.IsHost() {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestSession_CloseTerminatesAll(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-2")
	s.transport(t, "a", domain.DirectionSend)

	s.sessions.Close()
	assert.Zero(t, s.sessions.Sessions())
	assert.Empty(t, s.rooms.Rooms())
	assert.Zero(t, s.registry.Counts()[domain.HandleTransport])
}

func TestSession_WorkerLossDetachesMembers(t *testing.T) {
	s := newTestStack(t, stackOptions{workers: 2})

	s.join(t, "a", "room-1")
	s.join(t, "b", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	mic := s.produce(t, "a", send, domain.KindAudio, "")
	recv := s.transport(t, "b", domain.DirectionRecv)
	s.consume(t, "b", mic)

	room, ok := s.rooms.Room("room-1")
	require.True(t, ok)
	dead := room.worker.ID()
	s.notes.reset()

	room.worker.Close()

	_, ok = s.rooms.Room("room-1")
	assert.False(t, ok)
	for peerID, transportID := range map[domain.PeerID]domain.TransportID{"a": send, "b": recv} {
		state, _ := s.sessions.State(peerID)
		assert.Equal(t, domain.StateConnected, state, peerID)

		data, ok := s.notes.find(peerID, NotifyTransportClosed)
		require.True(t, ok, peerID)
		assert.Equal(t, TransportEvent{TransportID: transportID, Reason: reasonClosed}, data)

		data, ok = s.notes.find(peerID, NotifyRoomClosed)
		require.True(t, ok, peerID)
		assert.Equal(t, RoomClosedEvent{RoomID: "room-1", Reason: "routerClosed"}, data)

		methods := s.notes.methods(peerID)
		assert.Less(t, indexOf(methods, NotifyTransportClosed), indexOf(methods, NotifyRoomClosed), peerID)
		assert.Zero(t, s.registry.CountOwnedBy(peerID), peerID)
	}

	_, err := s.call("b", MethodCreateTransport, map[string]interface{}{"direction": domain.DirectionRecv})
	assert.ErrorIs(t, err, domain.ErrPeerNotJoined)

	// rejoining lands on a live router
	s.mustCall(t, "a", MethodJoin, map[string]interface{}{"roomId": "room-1", "rtpCapabilities": clientCaps()})
	again, ok := s.rooms.Room("room-1")
	require.True(t, ok)
	assert.NotSame(t, room, again)
	assert.NotEqual(t, dead, again.Router().WorkerID())
	send = s.transport(t, "a", domain.DirectionSend)
	s.produce(t, "a", send, domain.KindAudio, "")
}

func TestSession_RouterCloseReportsTransports(t *testing.T) {
	s := newTestStack(t, stackOptions{})

	s.join(t, "a", "room-1")
	send := s.transport(t, "a", domain.DirectionSend)
	peer, ok := s.sessions.Peer("a")
	require.True(t, ok)

	room, ok := s.rooms.Room("room-1")
	require.True(t, ok)
	room.Router().Close()

	_, ok = peer.Transport(send)
	assert.False(t, ok)
	assert.Equal(t, 1, s.notes.count("a", NotifyTransportClosed))
	assert.Equal(t, 1, s.notes.count("a", NotifyRoomClosed))

	// a transport closed on request is not reported twice
	s.mustCall(t, "a", MethodJoin, map[string]interface{}{"roomId": "room-1", "rtpCapabilities": clientCaps()})
	s.transport(t, "a", domain.DirectionRecv)
	s.mustCall(t, "a", MethodLeave, nil)
	assert.Equal(t, 1, s.notes.count("a", NotifyTransportClosed))
}
