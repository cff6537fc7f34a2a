package dmp

// Op is the operation a block request performs
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpFlush
	OpDiscard
	OpWriteZeroes
)

var opNames = [...]string{
	OpRead:        "read",
	OpWrite:       "write",
	OpFlush:       "flush",
	OpDiscard:     "discard",
	OpWriteZeroes: "write-zeroes",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "unknown"
}

// Direction returns how the op is counted: reads and writes are, everything
// else is forwarded uncounted.
func (op Op) Direction() Direction {
	switch op {
	case OpRead:
		return DirRead
	case OpWrite:
		return DirWrite
	default:
		return DirNone
	}
}

// MapResult tells the submitter what a target did with a request
type MapResult uint8

const (
	// MapRemapped means the request was retargeted and must be dispatched
	// to its new device
	MapRemapped MapResult = iota
	// MapSubmitted means the target completed the request itself
	MapSubmitted
	// MapKill fails the request with EIO
	MapKill
)

// Request is a single block I/O request.
//
// Read and write requests carry their payload in Data; discard and
// write-zeroes requests carry only a length.
type Request struct {
	Op     Op
	Offset int64
	Data   []byte
	Length uint64

	dev *Device
}

// Size returns the number of bytes the request covers
func (r *Request) Size() uint64 {
	switch r.Op {
	case OpRead, OpWrite:
		return uint64(len(r.Data))
	case OpFlush:
		return 0
	default:
		return r.Length
	}
}

// SetDevice retargets the request
func (r *Request) SetDevice(dev *Device) {
	r.dev = dev
}

// Device returns the device the request is currently aimed at
func (r *Request) Device() *Device {
	return r.dev
}
