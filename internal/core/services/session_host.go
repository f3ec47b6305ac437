package services

import (
	"context"
	"encoding/json"
	"errors"

	"meetsfu/internal/core/domain"
)

// Host-only request methods. They act on the target peer's resources.
const (
	MethodHostMute              = "host:mute"
	MethodHostStopVideo         = "host:stopVideo"
	MethodHostStopScreenSharing = "host:stopScreenSharing"
	MethodHostLowerHand         = "host:lowerHand"
	MethodHostKick              = "host:kick"
	MethodHostLockRoom          = "host:lockRoom"
	MethodHostUnlockRoom        = "host:unlockRoom"
)

const reasonHost = "host"

type hostRequest struct {
	PeerID domain.PeerID `json:"peerId"`
}

// asHost checks the requester is host of its room.
func asHost(s *session) (*Room, *Peer, error) {
	room, peer, err := s.joined()
	if err != nil {
		return nil, nil, err
	}
	if !peer.IsHost() {
		return nil, nil, domain.ErrForbidden
	}
	return room, peer, nil
}

// hostTarget resolves the target of a host request. A target that already
// left yields a nil peer and no error.
func hostTarget(s *session, data json.RawMessage) (*Room, *Peer, *Peer, error) {
	room, host, err := asHost(s)
	if err != nil {
		return nil, nil, nil, err
	}
	var req hostRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, nil, err
	}
	target, _ := room.Peer(req.PeerID)
	return room, host, target, nil
}

func (svc *SessionService) hostMute(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
	room, host, target, err := hostTarget(s, data)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return struct{}{}, nil
	}

	for _, producer := range target.ProducersBySource(domain.SourceMic) {
		if producer.Paused() {
			continue
		}
		if err := producer.Pause(ctx); err != nil {
			if errors.Is(err, domain.ErrHandleClosed) {
				continue
			}
			return nil, err
		}
		// consumers already heard about it from their producer-pause hook
		event := ProducerEvent{ProducerID: producer.ID(), PeerID: target.ID(), Reason: reasonHost}
		for _, p := range room.Peers() {
			if !p.ConsumesProducer(producer.ID()) {
				svc.notifier.Notify(p.ID(), NotifyProducerPaused, event)
			}
		}
		svc.logger.Infow("host muted peer", "host_id", host.ID(), "peer_id", target.ID(), "producer_id", producer.ID())
	}
	return struct{}{}, nil
}

func (svc *SessionService) hostStopSource(s *session, data json.RawMessage, source domain.Source) (interface{}, error) {
	_, host, target, err := hostTarget(s, data)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return struct{}{}, nil
	}

	for _, producer := range target.ProducersBySource(source) {
		if !target.CloseProducer(producer.ID()) {
			continue
		}
		// other members learn about it from the producer's close hook
		svc.notifier.Notify(target.ID(), NotifyProducerClosed, ProducerEvent{
			ProducerID: producer.ID(),
			PeerID:     target.ID(),
			Reason:     reasonHost,
		})
		svc.logger.Infow("host stopped producer",
			"host_id", host.ID(),
			"peer_id", target.ID(),
			"producer_id", producer.ID(),
			"source", source,
		)
	}
	return struct{}{}, nil
}

func (svc *SessionService) hostLowerHand(s *session, data json.RawMessage) (interface{}, error) {
	room, host, target, err := hostTarget(s, data)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return struct{}{}, nil
	}

	if target.SetHandRaised(false) {
		svc.broadcast(room, "", NotifyHandLowered, PeerEvent{PeerID: target.ID(), By: host.ID()})
	}
	return struct{}{}, nil
}

func (svc *SessionService) hostKick(s *session, data json.RawMessage) (interface{}, error) {
	_, host, target, err := hostTarget(s, data)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return struct{}{}, nil
	}

	svc.notifier.Notify(target.ID(), NotifyKicked, PeerEvent{PeerID: target.ID(), By: host.ID(), Reason: reasonHost})
	if ts, ok := svc.session(target.ID()); ok {
		svc.terminate(ts, "kicked")
	}
	svc.notifier.Close(target.ID())

	svc.logger.Infow("host kicked peer", "host_id", host.ID(), "peer_id", target.ID())
	return struct{}{}, nil
}

func (svc *SessionService) hostSetLocked(ctx context.Context, s *session, locked bool) (interface{}, error) {
	room, host, err := asHost(s)
	if err != nil {
		return nil, err
	}

	if svc.rooms.SetLocked(ctx, room, locked) {
		method := NotifyRoomUnlocked
		if locked {
			method = NotifyRoomLocked
		}
		svc.broadcast(room, "", method, RoomEvent{RoomID: room.ID(), By: host.ID()})
	}
	return struct{}{}, nil
}
