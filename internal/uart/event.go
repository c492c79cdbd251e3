package uart

// EventKind enumerates asynchronous conditions reported by the driver pump.
type EventKind int

const (
	// EventData reports Size bytes staged in the driver ring, readable
	// without blocking.
	EventData EventKind = iota
	// EventFIFOOverflow reports a hardware receive FIFO overrun.
	EventFIFOOverflow
	// EventBufferFull reports that the driver ring could not absorb a read.
	EventBufferFull
	EventBreak
	EventParityError
	EventFrameError
	// EventOther carries an unrecognized driver condition code.
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventFIFOOverflow:
		return "fifo_overflow"
	case EventBufferFull:
		return "buffer_full"
	case EventBreak:
		return "break"
	case EventParityError:
		return "parity_error"
	case EventFrameError:
		return "frame_error"
	default:
		return "other"
	}
}

// Event is one asynchronous UART driver notification.
type Event struct {
	Kind EventKind
	Size int // bytes available, EventData only
	Code int // raw driver condition, EventOther only
}
