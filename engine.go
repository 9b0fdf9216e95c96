// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

// logger is the interface to the required logging functions. Grouped the
// same way the teacher's transports take an optional logger: nil means
// silent, anything with a Printf works (including a log/slog adapter, see
// cmd/rtu-sniff).
type logger interface {
	Printf(format string, v ...interface{})
}

// ParserState is the FrameEngine's observable state (spec.md §3). Complete
// and Error are terminal: the next fed byte implicitly resets the machine.
type ParserState int

const (
	StateSlaveAddress ParserState = iota
	StateFunctionCode
	StateAddress
	StateQuantity
	StateByteCount
	StateData
	StateModbusException
	StateFirstCRC
	StateSecondCRC
	StateComplete
	StateError
)

func (s ParserState) String() string {
	switch s {
	case StateSlaveAddress:
		return "SlaveAddress"
	case StateFunctionCode:
		return "FunctionCode"
	case StateAddress:
		return "Address"
	case StateQuantity:
		return "Quantity"
	case StateByteCount:
		return "ByteCount"
	case StateData:
		return "Data"
	case StateModbusException:
		return "ModbusException"
	case StateFirstCRC:
		return "FirstCRC"
	case StateSecondCRC:
		return "SecondCRC"
	case StateComplete:
		return "Complete"
	case StateError:
		return "Error"
	default:
		return "unknown"
	}
}

// Endianness controls the wire order of multi-byte fields and of the
// trailing CRC (spec.md §4.1, §4.4).
type Endianness int

const (
	// BigEndian puts the high byte first for Address/Quantity and the CRC
	// low byte first. This is the default.
	BigEndian Endianness = iota
	// LittleEndian puts the low byte first for Address/Quantity and the
	// CRC high byte first.
	LittleEndian
)

const defaultByteCountLimit = 96

// Config holds the immutable-once-parsing-starts settings for a
// FrameEngine (spec.md §3 "Engine configuration").
type Config struct {
	// SlaveAddress is the address this parser accepts; 0 means accept any
	// address (promiscuous mode).
	SlaveAddress byte
	// Endianness orders multi-byte fields and the CRC on the wire.
	// Defaults to BigEndian.
	Endianness Endianness
	// SwapRegisters, when true, reverses byte order within each
	// RegisterSize-byte register as payload bytes are written.
	SwapRegisters bool
	// RegisterSize is the register width in bytes used by SwapRegisters.
	// Must be >= 1 when SwapRegisters is set; 0 is a configuration error
	// (spec.md §9), reported as ErrorKind ConfigurationError on the first
	// frame that reaches the Data phase rather than causing a panic.
	RegisterSize uint16
	// ByteCountLimit guards against oversized declared payloads. Defaults
	// to 96 when left at 0.
	ByteCountLimit int
	// StrictExceptionCRC, when true, validates the CRC trailing a Modbus
	// exception response before surfacing the exception instead of
	// reporting it eagerly on the exception-code byte (spec.md §9, the
	// "conformant extension"). Default false matches the original source.
	StrictExceptionCRC bool

	// OnComplete, if set, is invoked synchronously the instant the engine
	// reaches StateComplete.
	OnComplete func(*FrameEngine)
	// OnError, if set, is invoked synchronously the instant the engine
	// reaches StateError.
	OnError func(*FrameEngine)
	// Logger receives optional diagnostic output. Nil is silent.
	Logger logger
}

// byteCountLimit returns the configured limit, defaulting to 96.
func (c Config) byteCountLimit() int {
	if c.ByteCountLimit > 0 {
		return c.ByteCountLimit
	}
	return defaultByteCountLimit
}

// FrameEngine is the byte-driven Modbus RTU frame state machine (spec.md
// §4.4). It is parameterized by a Role at construction, which selects the
// dispatch table for each supported function code. FrameEngine is
// single-owner and non-copyable in spirit: copy the exported Config if you
// need a second, independent engine.
type FrameEngine struct {
	role Role
	cfg  Config

	state ParserState
	crc   crc16

	slaveAddress byte
	functionCode byte
	address      uint16
	quantity     uint16
	byteCount    byte
	errKind      ErrorKind

	payload     *payloadBuffer
	byteCountSet bool

	phases  dispatchTable
	phaseAt int

	// fieldAssembling holds the high (or first-received) byte of a
	// two-byte Address/Quantity field while its second byte is awaited.
	fieldAssembling byte
}

// NewFrameEngine constructs a FrameEngine for the given role. A zero Config
// is valid: it accepts any slave address, assumes BigEndian, and applies
// the default byte-count limit.
func NewFrameEngine(role Role, cfg Config) *FrameEngine {
	e := &FrameEngine{role: role, cfg: cfg}
	e.reset()
	return e
}

// reset returns the engine to StateSlaveAddress, clears the CRC, frees any
// payload, and clears the error kind. Safe to call at any time (spec.md
// §5).
func (e *FrameEngine) reset() {
	e.state = StateSlaveAddress
	e.crc.reset()
	e.slaveAddress = 0
	e.functionCode = 0
	e.address = 0
	e.quantity = 0
	e.byteCount = 0
	e.errKind = NoError
	e.payload = nil
	e.byteCountSet = false
	e.phases = nil
	e.phaseAt = 0
	e.fieldAssembling = 0
}

// Reset is the exported form of reset, for callers abandoning a
// partially-parsed frame (spec.md §5 "Cancellation").
func (e *FrameEngine) Reset() { e.reset() }

// Feed drives the state machine with a single byte. It returns nothing;
// callers inspect State, IsComplete or IsError (or use the OnComplete and
// OnError callbacks) to see where the byte left the machine. Terminal
// states are not sticky across calls to Feed: a terminal state at entry is
// silently reset before the byte is processed as the first byte of a new
// frame.
func (e *FrameEngine) Feed(b byte) {
	if e.state == StateComplete || e.state == StateError {
		e.reset()
	}
	e.logf("modbus: feed %#x in state %s", b, e.state)
	switch e.state {
	case StateSlaveAddress:
		e.feedSlaveAddress(b)
	case StateFunctionCode:
		e.feedFunctionCode(b)
	case StateAddress, StateQuantity, StateByteCount, StateData:
		e.feedPayloadPhase(b)
	case StateModbusException:
		e.feedModbusException(b)
	case StateFirstCRC:
		e.feedFirstCRC(b)
	case StateSecondCRC:
		e.feedSecondCRC(b)
	}
}

// FeedBytes drives the state machine with each byte of p in order, stopping
// as soon as the engine lands in StateError; the remaining bytes of p are
// left unconsumed so the caller can decide how to resynchronize (spec.md
// §4.5). It returns the number of bytes actually consumed.
func (e *FrameEngine) FeedBytes(p []byte) int {
	for i, b := range p {
		e.Feed(b)
		if e.state == StateError {
			return i + 1
		}
	}
	return len(p)
}

func (e *FrameEngine) feedSlaveAddress(b byte) {
	if b == e.cfg.SlaveAddress || e.cfg.SlaveAddress == 0 {
		e.slaveAddress = b
		e.crc.fold(b)
		e.state = StateFunctionCode
		return
	}
	// Pre-frame noise: stays in StateSlaveAddress, no CRC update, permits
	// resynchronization across silent-interval boundaries.
}

func (e *FrameEngine) feedFunctionCode(b byte) {
	if b&exceptionBit != 0 {
		e.functionCode = b
		e.state = StateModbusException
		return
	}
	phases, ok := dispatchFor(e.role, b)
	if !ok {
		e.fail(IllegalFunction)
		return
	}
	e.functionCode = b
	e.crc.fold(b)
	e.phases = phases
	e.phaseAt = 0
	e.enterPhase()
}

// enterPhase sets e.state to the phase at e.phaseAt, or advances straight
// to StateFirstCRC once every dispatched phase has been walked.
func (e *FrameEngine) enterPhase() {
	if e.phaseAt >= len(e.phases) {
		e.state = StateFirstCRC
		return
	}
	e.state = e.phases[e.phaseAt]
}

// advancePhase moves past the current dispatch entry and enters the next
// one (or StateFirstCRC if none remain).
func (e *FrameEngine) advancePhase() {
	e.phaseAt++
	e.enterPhase()
}

// secondByteOfField reports whether the byte about to be consumed is the
// second (low, in wire-assembly order) byte of a two-entry Address/Quantity
// field: true whenever the previous dispatch entry carries the same tag.
func (e *FrameEngine) secondByteOfField() bool {
	return e.phaseAt > 0 && e.phases[e.phaseAt-1] == e.phases[e.phaseAt]
}

func (e *FrameEngine) feedPayloadPhase(b byte) {
	switch e.state {
	case StateAddress:
		e.feedWord(b, &e.address)
	case StateQuantity:
		complete := e.feedWord(b, &e.quantity)
		if complete && e.quantity == 0 {
			e.fail(IllegalDataValue)
			return
		}
	case StateByteCount:
		e.feedByteCount(b)
	case StateData:
		e.feedData(b)
	}
}

// feedWord assembles a 16-bit Address/Quantity field across its two
// dispatch entries and folds the CRC for every byte (spec.md §4.4). It
// reports whether this call supplied the field's closing byte.
func (e *FrameEngine) feedWord(b byte, out *uint16) bool {
	e.crc.fold(b)
	if !e.secondByteOfField() {
		e.fieldAssembling = b
		e.advancePhase()
		return false
	}
	if e.cfg.Endianness == BigEndian {
		*out = uint16(e.fieldAssembling)<<8 | uint16(b)
	} else {
		*out = uint16(b)<<8 | uint16(e.fieldAssembling)
	}
	e.advancePhase()
	return true
}

func (e *FrameEngine) feedByteCount(b byte) {
	limit := e.cfg.byteCountLimit()
	if b == 0 || int(b) > limit {
		e.fail(IllegalDataValue)
		return
	}
	e.byteCount = b
	e.byteCountSet = true
	e.crc.fold(b)
	e.advancePhase()
}

func (e *FrameEngine) feedData(b byte) {
	if e.payload == nil {
		size := int(e.byteCount)
		if !e.byteCountSet {
			size = 2
		}
		buf, err := newPayloadBuffer(size, e.cfg.SwapRegisters, int(e.cfg.RegisterSize))
		if err != nil {
			e.fail(ConfigurationError)
			return
		}
		e.payload = buf
	}
	e.payload.write(b)
	e.crc.fold(b)
	if e.dataToReceive() == 0 {
		e.advancePhase()
	}
}

// dataToReceive is the number of payload bytes still expected. It derives
// from the payload buffer's declared size and how many bytes it has
// received so far, rather than a separately-tracked counter (spec.md §9
// notes the original source's redundant bytesUntilComplete field; this
// parser counts via the dispatch cursor and the buffer alone).
func (e *FrameEngine) dataToReceive() int {
	if e.payload == nil {
		return 0
	}
	return len(e.payload.data) - e.payload.written
}

func (e *FrameEngine) feedModbusException(b byte) {
	e.errKind = ErrorKind(b)
	if !e.cfg.StrictExceptionCRC {
		e.state = StateError
		e.invokeOnError()
		return
	}
	// Conformant extension (spec.md §9): keep validating through the CRC
	// before surfacing the exception. The function code and exception byte
	// are folded here so the trailer is checked against the CRC of the
	// whole exception frame.
	e.crc.fold(e.functionCode).fold(b)
	e.state = StateFirstCRC
}

func (e *FrameEngine) feedFirstCRC(b byte) {
	want := e.crc.lo()
	if e.cfg.Endianness == LittleEndian {
		want = e.crc.hi()
	}
	if b != want {
		e.fail(CRCError)
		return
	}
	e.state = StateSecondCRC
}

func (e *FrameEngine) feedSecondCRC(b byte) {
	want := e.crc.hi()
	if e.cfg.Endianness == LittleEndian {
		want = e.crc.lo()
	}
	if b != want {
		e.fail(CRCError)
		return
	}
	if e.remainingDataInvariant() != 0 {
		e.fail(IllegalDataValue)
		return
	}
	if e.errKind != NoError {
		// Reached only via StrictExceptionCRC: the exception survives a
		// valid CRC and is now reported.
		e.state = StateError
		e.invokeOnError()
		return
	}
	e.state = StateComplete
	e.invokeOnComplete()
}

// remainingDataInvariant re-derives "dataToReceive" at SecondCRC time; it
// must be zero for any frame that declared a Data phase, and is trivially
// zero for frames whose dispatch table never enters Data (spec.md §4.4
// SecondCRC: "if dataToReceive != 0 at this point... raise
// Error(IllegalDataValue)").
func (e *FrameEngine) remainingDataInvariant() int {
	return e.dataToReceive()
}

func (e *FrameEngine) fail(kind ErrorKind) {
	e.errKind = kind
	e.state = StateError
	e.invokeOnError()
}

func (e *FrameEngine) invokeOnComplete() {
	e.logf("modbus: complete fc=%#x addr=%d qty=%d bc=%d crc=%#04x",
		e.functionCode, e.address, e.quantity, e.byteCount, e.CRC())
	if e.cfg.OnComplete != nil {
		e.cfg.OnComplete(e)
	}
}

func (e *FrameEngine) invokeOnError() {
	e.logf("modbus: error %s fc=%#x", e.errKind, e.functionCode)
	if e.cfg.OnError != nil {
		e.cfg.OnError(e)
	}
}

func (e *FrameEngine) logf(format string, v ...interface{}) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Printf(format, v...)
	}
}

// --- Read-only accessors (spec.md §6) ---

// State returns the current ParserState.
func (e *FrameEngine) State() ParserState { return e.state }

// IsComplete reports whether the engine is in StateComplete.
func (e *FrameEngine) IsComplete() bool { return e.state == StateComplete }

// IsError reports whether the engine is in StateError.
func (e *FrameEngine) IsError() bool { return e.state == StateError }

// SlaveAddress returns the slave address byte recorded for the in-progress
// or completed frame.
func (e *FrameEngine) SlaveAddress() byte { return e.slaveAddress }

// FunctionCode returns the function code byte (high bit set if the frame
// is a Modbus exception response).
func (e *FrameEngine) FunctionCode() byte { return e.functionCode }

// Address returns the register/coil start address, meaningful when the
// frame's dispatch table includes an Address phase.
func (e *FrameEngine) Address() uint16 { return e.address }

// Quantity returns the register/coil count, meaningful when the frame's
// dispatch table includes a Quantity phase.
func (e *FrameEngine) Quantity() uint16 { return e.quantity }

// ByteCount returns the declared payload byte count, meaningful when the
// frame's dispatch table includes a ByteCount phase.
func (e *FrameEngine) ByteCount() byte { return e.byteCount }

// Data returns the accumulated payload. Only meaningful at StateComplete;
// the returned slice is owned by the engine and is invalidated by the next
// Feed that transitions out of Complete, or by Reset.
func (e *FrameEngine) Data() []byte {
	if e.payload == nil {
		return nil
	}
	return e.payload.bytes()
}

// CRC returns the CRC computed over the frame body.
func (e *FrameEngine) CRC() uint16 { return e.crc.value }

// ErrorKind returns why the engine is in StateError, or NoError otherwise.
func (e *FrameEngine) ErrorKind() ErrorKind { return e.errKind }

// Err returns a *FrameError describing the current error, or nil when the
// engine is not in StateError.
func (e *FrameEngine) Err() error {
	if e.state != StateError {
		return nil
	}
	return &FrameError{Kind: e.errKind, FunctionCode: e.functionCode}
}

var _ fmt.Stringer = ParserState(0)
