package host

// ReceiveFunc is invoked when host bytes are pending. The handler drains them
// synchronously via Endpoint.Read.
type ReceiveFunc func(itf int)

// LineStateFunc is invoked on host DTR/RTS edges.
type LineStateFunc func(itf int, dtr, rts bool)

// Callbacks customize endpoint notification delivery. An endpoint invokes
// them serially; handlers must still tolerate interleaving with the relay
// loops running on other goroutines.
type Callbacks struct {
	OnReceive   ReceiveFunc
	OnLineState LineStateFunc
}

// Endpoint is the host-facing transport surface consumed by the relay.
// Write is best-effort and may accept fewer bytes than offered;
// WriteAvailable reports how many bytes a write would accept right now.
type Endpoint interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	WriteAvailable() int
	Flush() error
	Close() error
}
