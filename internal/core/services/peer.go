package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"go.uber.org/zap"
)

// Peer holds the media handles one connection owns. Engine calls are never
// made while p.mu is held.
type Peer struct {
	id       domain.PeerID
	roomID   domain.RoomID
	identity domain.Identity
	policy   ports.LayerPolicy

	role       domain.Role
	handRaised bool
	transports map[domain.TransportID]ports.Transport
	producers  map[domain.ProducerID]ports.Producer
	consumers  map[domain.ConsumerID]ports.Consumer
	closed     bool
	mu         sync.RWMutex

	// transportLost is told about owned transports the engine closed.
	transportLost func(domain.TransportID)

	logger *zap.SugaredLogger
}

func NewPeer(id domain.PeerID, roomID domain.RoomID, identity domain.Identity, policy ports.LayerPolicy, logger *zap.SugaredLogger) *Peer {
	if policy == nil {
		policy = HighestLayerPolicy{}
	}
	return &Peer{
		id:         id,
		roomID:     roomID,
		identity:   identity,
		policy:     policy,
		role:       domain.RoleGuest,
		transports: make(map[domain.TransportID]ports.Transport),
		producers:  make(map[domain.ProducerID]ports.Producer),
		consumers:  make(map[domain.ConsumerID]ports.Consumer),
		logger:     logger.With("peer_id", id, "room_id", roomID),
	}
}

func (p *Peer) ID() domain.PeerID { return p.id }
func (p *Peer) RoomID() domain.RoomID { return p.roomID }
func (p *Peer) Identity() domain.Identity { return p.identity }

func (p *Peer) Role() domain.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

func (p *Peer) setRole(role domain.Role) {
	p.mu.Lock()
	p.role = role
	p.mu.Unlock()
}

func (p *Peer) IsHost() bool { return p.Role() == domain.RoleHost }

// SetHandRaised updates the hand flag and reports whether it changed.
func (p *Peer) SetHandRaised(raised bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handRaised == raised {
		return false
	}
	p.handRaised = raised
	return true
}

func (p *Peer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// OnTransportLost sets fn to run when an owned transport is closed by
// anything other than this peer, e.g. its router going away.
func (p *Peer) OnTransportLost(fn func(domain.TransportID)) {
	p.mu.Lock()
	p.transportLost = fn
	p.mu.Unlock()
}

// AddTransport takes ownership of t. A closed peer closes t instead.
func (p *Peer) AddTransport(t ports.Transport) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.Close()
		return domain.ErrPeerClosed
	}
	p.transports[t.ID()] = t
	p.mu.Unlock()

	id := t.ID()
	t.OnStateChange(func(state domain.TransportState) {
		if state == domain.TransportClosed {
			p.forgetTransport(id)
		}
	})
	if t.Closed() {
		p.forgetTransport(id)
	}
	return nil
}

// forgetTransport drops a transport that closed while still owned.
func (p *Peer) forgetTransport(id domain.TransportID) {
	p.mu.Lock()
	_, ok := p.transports[id]
	delete(p.transports, id)
	lost := p.transportLost
	p.mu.Unlock()

	if !ok {
		return
	}
	p.logger.Infow("transport closed by media engine", "transport_id", id)
	if lost != nil {
		lost(id)
	}
}

func (p *Peer) Transport(id domain.TransportID) (ports.Transport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.transports[id]
	return t, ok
}

// TransportFor returns the first owned transport with the given direction.
func (p *Peer) TransportFor(dir domain.Direction) (ports.Transport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.transports {
		if t.AppData().Direction == dir {
			return t, true
		}
	}
	return nil, false
}

// ConnectTransport is a no-op for unknown transports.
func (p *Peer) ConnectTransport(ctx context.Context, id domain.TransportID, dtls domain.DtlsParameters) error {
	t, ok := p.Transport(id)
	if !ok {
		return nil
	}
	return t.Connect(ctx, dtls)
}

// CloseTransport closes an owned transport; its producers and consumers follow.
func (p *Peer) CloseTransport(id domain.TransportID) bool {
	p.mu.Lock()
	t, ok := p.transports[id]
	delete(p.transports, id)
	p.mu.Unlock()

	if ok {
		t.Close()
	}
	return ok
}

func (p *Peer) CreateProducer(ctx context.Context, transportID domain.TransportID, kind domain.MediaKind, params domain.RtpParameters, source domain.Source, paused bool) (ports.Producer, error) {
	t, ok := p.Transport(transportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}

	producer, err := t.Produce(ctx, ports.ProduceOptions{
		Kind:          kind,
		RtpParameters: params,
		Paused:        paused,
		AppData:       domain.AppData{PeerID: p.id, RoomID: p.roomID, Direction: domain.DirectionSend, Source: source},
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		producer.Close()
		return nil, domain.ErrPeerClosed
	}
	p.producers[producer.ID()] = producer
	p.mu.Unlock()

	producer.OnTrace(func(ev ports.TraceEvent) {
		p.logger.Debugw("producer trace", "producer_id", producer.ID(), "type", ev.Type, "direction", ev.Direction)
	})
	producer.OnTransportClose(func() {
		p.logger.Infow("producer transport closed", "producer_id", producer.ID(), "name", p.identity.DisplayName)
		p.removeProducer(producer.ID())
	})
	producer.OnClose(func() { p.removeProducer(producer.ID()) })

	return producer, nil
}

// CreateConsumer consumes producerID on an owned transport. When caps cannot
// decode the producer it logs and returns a nil consumer without error.
func (p *Peer) CreateConsumer(ctx context.Context, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (ports.Consumer, *domain.ConsumerParams, error) {
	t, ok := p.Transport(transportID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}

	consumer, err := t.Consume(ctx, ports.ConsumeOptions{
		ProducerID:      producerID,
		RtpCapabilities: caps,
		AppData:         domain.AppData{PeerID: p.id, RoomID: p.roomID, Direction: domain.DirectionRecv},
	})
	if errors.Is(err, domain.ErrCapabilitiesMismatch) {
		p.logger.Warnw("no consumer created", "producer_id", producerID, "error", err)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	if consumer.Type() != domain.ConsumerSimple {
		layers := p.policy.PreferredLayers(consumer)
		if err := consumer.SetPreferredLayers(ctx, layers); err != nil {
			p.logger.Warnw("failed to set preferred layers", "consumer_id", consumer.ID(), "error", err)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		consumer.Close()
		return nil, nil, domain.ErrPeerClosed
	}
	p.consumers[consumer.ID()] = consumer
	p.mu.Unlock()

	consumer.OnTransportClose(func() {
		p.logger.Infow("consumer transport closed", "consumer_id", consumer.ID(), "name", p.identity.DisplayName)
		p.RemoveConsumer(consumer.ID())
	})

	return consumer, &domain.ConsumerParams{
		ProducerID:     producerID,
		ID:             consumer.ID(),
		Kind:           consumer.Kind(),
		RtpParameters:  consumer.RtpParameters(),
		Type:           consumer.Type(),
		ProducerPaused: consumer.ProducerPaused(),
	}, nil
}

// CloseProducer closes an owned producer. Unknown ids are ignored.
func (p *Peer) CloseProducer(id domain.ProducerID) bool {
	p.mu.Lock()
	producer, ok := p.producers[id]
	delete(p.producers, id)
	p.mu.Unlock()

	if ok {
		producer.Close()
	}
	return ok
}

func (p *Peer) removeProducer(id domain.ProducerID) {
	p.mu.Lock()
	delete(p.producers, id)
	p.mu.Unlock()
}

// RemoveConsumer drops a consumer from the map without closing it.
func (p *Peer) RemoveConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *Peer) Producer(id domain.ProducerID) (ports.Producer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	producer, ok := p.producers[id]
	return producer, ok
}

func (p *Peer) Consumer(id domain.ConsumerID) (ports.Consumer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumers[id]
	return c, ok
}

// Producers returns owned producers ordered by id.
func (p *Peer) Producers() []ports.Producer {
	p.mu.RLock()
	out := make([]ports.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		out = append(out, producer)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Peer) ProducersBySource(source domain.Source) []ports.Producer {
	var out []ports.Producer
	for _, producer := range p.Producers() {
		if producer.AppData().Source == source {
			out = append(out, producer)
		}
	}
	return out
}

// ConsumesProducer reports whether p has a consumer of producerID.
func (p *Peer) ConsumesProducer(producerID domain.ProducerID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.consumers {
		if c.ProducerID() == producerID {
			return true
		}
	}
	return false
}

func (p *Peer) ConsumerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.consumers)
}

// Close closes every owned transport. Producers and consumers go with them.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	transports := make([]ports.Transport, 0, len(p.transports))
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	p.transports = make(map[domain.TransportID]ports.Transport)
	p.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}

	p.mu.Lock()
	p.producers = make(map[domain.ProducerID]ports.Producer)
	p.consumers = make(map[domain.ConsumerID]ports.Consumer)
	p.mu.Unlock()
}

func (p *Peer) Info() domain.PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.PeerInfo{
		ID:         p.id,
		UserID:     p.identity.UserID,
		Name:       p.identity.DisplayName,
		Role:       p.role,
		HandRaised: p.handRaised,
	}
}

func (p *Peer) Dump() domain.PeerDump {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dump := domain.PeerDump{
		ID:         p.id,
		UserID:     p.identity.UserID,
		Name:       p.identity.DisplayName,
		Role:       p.role,
		HandRaised: p.handRaised,
		Transports: make([]domain.TransportID, 0, len(p.transports)),
		Producers:  make([]domain.ProducerID, 0, len(p.producers)),
		Consumers:  make([]domain.ConsumerID, 0, len(p.consumers)),
	}
	for id := range p.transports {
		dump.Transports = append(dump.Transports, id)
	}
	for id := range p.producers {
		dump.Producers = append(dump.Producers, id)
	}
	for id := range p.consumers {
		dump.Consumers = append(dump.Consumers, id)
	}
	sort.Slice(dump.Transports, func(i, j int) bool { return dump.Transports[i] < dump.Transports[j] })
	sort.Slice(dump.Producers, func(i, j int) bool { return dump.Producers[i] < dump.Producers[j] })
	sort.Slice(dump.Consumers, func(i, j int) bool { return dump.Consumers[i] < dump.Consumers[j] })
	return dump
}
