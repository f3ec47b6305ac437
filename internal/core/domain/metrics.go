package domain

// HandleKind names one of the media engine handle tables.
type HandleKind string

const (
	HandleWorker    HandleKind = "worker"
	HandleRouter    HandleKind = "router"
	HandleTransport HandleKind = "transport"
	HandleProducer  HandleKind = "producer"
	HandleConsumer  HandleKind = "consumer"
)

// HandleKinds lists the kinds in dependency order.
var HandleKinds = []HandleKind{HandleWorker, HandleRouter, HandleTransport, HandleProducer, HandleConsumer}

func ParseHandleKind(s string) (HandleKind, bool) {
	for _, k := range HandleKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type WorkerUsage struct {
	ID      WorkerID `json:"id"`
	PID     int      `json:"pid"`
	Routers int      `json:"routers"`
	Closed  bool     `json:"closed"`
}

// RegistryCounts is a snapshot of the number of live handles per kind.
type RegistryCounts map[HandleKind]int
