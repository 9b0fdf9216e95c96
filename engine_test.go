// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// frameWithCRC appends the two-byte CRC-16/Modbus trailer to body, in the
// wire order endian prescribes, using the same crc16 the engine itself
// uses — fixtures built this way are self-consistent regardless of how a
// given scenario chooses to print its CRC value.
func frameWithCRC(body []byte, endian Endianness) []byte {
	var c crc16
	c.reset().foldBytes(body)
	if endian == LittleEndian {
		return append(append([]byte{}, body...), c.hi(), c.lo())
	}
	return append(append([]byte{}, body...), c.lo(), c.hi())
}

type engineScenario struct {
	name         string
	role         Role
	cfg          Config
	wire         []byte
	wantState    ParserState
	wantErrKind  ErrorKind
	wantFC       byte
	wantAddress  uint16
	wantQuantity uint16
	wantByteCnt  byte
	wantData     []byte
}

func scenarios() []engineScenario {
	longBody := make([]byte, 0, 83)
	longBody = append(longBody, 0x01, 0x04, 0x50)
	longData := make([]byte, 80)
	for i := range longData {
		longData[i] = byte(i)
	}
	longBody = append(longBody, longData...)

	return []engineScenario{
		{
			name:        "good response FC=3",
			role:        RoleResponse,
			cfg:         Config{SlaveAddress: 1},
			wire:        []byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xDA, 0x31},
			wantState:   StateComplete,
			wantFC:      0x03,
			wantByteCnt: 4,
			wantData:    []byte{0x00, 0x06, 0x00, 0x05},
		},
		{
			name:        "bad crc response FC=3",
			role:        RoleResponse,
			cfg:         Config{SlaveAddress: 1},
			wire:        []byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xFF, 0x31},
			wantState:   StateError,
			wantErrKind: CRCError,
		},
		{
			name:        "long response FC=4",
			role:        RoleResponse,
			cfg:         Config{SlaveAddress: 1},
			wire:        frameWithCRC(longBody, BigEndian),
			wantState:   StateComplete,
			wantFC:      0x04,
			wantByteCnt: 0x50,
			wantData:    longData,
		},
		{
			name:        "exception response",
			role:        RoleResponse,
			cfg:         Config{SlaveAddress: 1},
			wire:        []byte{0x01, 0x82, 0x02},
			wantState:   StateError,
			wantErrKind: IllegalDataAddress,
			wantFC:      0x82,
		},
		{
			name:         "good request FC=4",
			role:         RoleRequest,
			cfg:          Config{SlaveAddress: 1},
			wire:         []byte{0x01, 0x04, 0x01, 0x31, 0x00, 0x1E, 0x20, 0x31},
			wantState:    StateComplete,
			wantFC:       0x04,
			wantAddress:  305,
			wantQuantity: 30,
		},
		{
			name:         "write multiple registers request FC=0x10",
			role:         RoleRequest,
			cfg:          Config{SlaveAddress: 1},
			wire:         []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02, 0x92, 0x30},
			wantState:    StateComplete,
			wantFC:       0x10,
			wantAddress:  1,
			wantQuantity: 2,
			wantByteCnt:  4,
			wantData:     []byte{0x00, 0x0A, 0x01, 0x02},
		},
		{
			name:        "promiscuous mode",
			role:        RoleResponse,
			cfg:         Config{SlaveAddress: 0},
			wire:        []byte{0x11, 0x06, 0x00, 0x01, 0x00, 0x03, 0x9A, 0x9B},
			wantState:   StateComplete,
			wantFC:      0x06,
			wantAddress: 1,
			wantData:    []byte{0x00, 0x03},
		},
		{
			name:        "pre-frame noise then good frame",
			role:        RoleResponse,
			cfg:         Config{SlaveAddress: 1},
			wire:        []byte{0xFF, 0xFF, 0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xDA, 0x31},
			wantState:   StateComplete,
			wantFC:      0x03,
			wantByteCnt: 4,
			wantData:    []byte{0x00, 0x06, 0x00, 0x05},
		},
	}
}

func newEngine(role Role, cfg Config) *FrameEngine {
	return NewFrameEngine(role, cfg)
}

func TestScenariosFedOneByteAtATime(t *testing.T) {
	for _, sc := range scenarios() {
		t.Run(sc.name, func(t *testing.T) {
			e := newEngine(sc.role, sc.cfg)
			for _, b := range sc.wire {
				e.Feed(b)
				if e.IsError() {
					// Error is terminal: a further byte would reset the
					// engine and start a new frame, so stop where FeedBytes
					// itself stops.
					break
				}
			}
			assertScenario(t, sc, e)
		})
	}
}

func TestScenariosFedInBulk(t *testing.T) {
	for _, sc := range scenarios() {
		t.Run(sc.name, func(t *testing.T) {
			e := newEngine(sc.role, sc.cfg)
			e.FeedBytes(sc.wire)
			assertScenario(t, sc, e)
		})
	}
}

func TestScenariosFedInArbitraryChunks(t *testing.T) {
	// Associativity of Feed (spec.md §8): chunking the same byte stream
	// differently must not change the final observable state. Each list of
	// chunk sizes repeats until the whole stream has been fed; feeding stops
	// once the engine is in Error, as FeedBytes itself does.
	chunkings := [][]int{
		{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		{2, 3, 4, 50},
		{100},
	}
	for _, sc := range scenarios() {
		for _, sizes := range chunkings {
			t.Run(sc.name, func(t *testing.T) {
				e := newEngine(sc.role, sc.cfg)
				i := 0
				for k := 0; i < len(sc.wire) && !e.IsError(); k++ {
					end := i + sizes[k%len(sizes)]
					if end > len(sc.wire) {
						end = len(sc.wire)
					}
					e.FeedBytes(sc.wire[i:end])
					i = end
				}
				assertScenario(t, sc, e)
			})
		}
	}
}

func assertScenario(t *testing.T, sc engineScenario, e *FrameEngine) {
	t.Helper()
	require.Equal(t, sc.wantState, e.State(), "state")
	if sc.wantState == StateError {
		require.Equal(t, sc.wantErrKind, e.ErrorKind(), "error kind")
		require.Error(t, e.Err())
		return
	}
	require.NoError(t, e.Err())
	require.Equal(t, sc.wantFC, e.FunctionCode(), "function code")
	if sc.wantAddress != 0 {
		require.Equal(t, sc.wantAddress, e.Address(), "address")
	}
	if sc.wantQuantity != 0 {
		require.Equal(t, sc.wantQuantity, e.Quantity(), "quantity")
	}
	if sc.wantByteCnt != 0 {
		require.Equal(t, sc.wantByteCnt, e.ByteCount(), "byte count")
	}
	if sc.wantData != nil {
		if diff := cmp.Diff(sc.wantData, e.Data()); diff != "" {
			t.Errorf("data mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestResetOnTerminalStateIsImplicitOnNextFeed(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1})
	e.FeedBytes([]byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xDA, 0x31})
	require.True(t, e.IsComplete())

	// Feeding one more byte resets, then treats it as the first byte of a
	// new frame.
	e.Feed(0x01)
	require.Equal(t, StateFunctionCode, e.State())
	require.Equal(t, uint16(0), e.Address())
}

func TestResetClearsErrorState(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1})
	e.FeedBytes([]byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xFF, 0x31})
	require.True(t, e.IsError())

	e.Reset()
	require.Equal(t, StateSlaveAddress, e.State())
	require.Equal(t, NoError, e.ErrorKind())
	require.Nil(t, e.Data())
}

func TestQuantityZeroIsIllegalDataValue(t *testing.T) {
	e := newEngine(RoleRequest, Config{SlaveAddress: 1})
	body := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x00} // quantity = 0
	e.FeedBytes(frameWithCRC(body, BigEndian))
	require.True(t, e.IsError())
	require.Equal(t, IllegalDataValue, e.ErrorKind())
}

func TestByteCountZeroIsIllegalDataValue(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1})
	e.FeedBytes([]byte{0x01, 0x03, 0x00})
	require.True(t, e.IsError())
	require.Equal(t, IllegalDataValue, e.ErrorKind())
}

func TestByteCountOverLimitIsIllegalDataValue(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1, ByteCountLimit: 10})
	e.FeedBytes([]byte{0x01, 0x03, 0x0B})
	require.True(t, e.IsError())
	require.Equal(t, IllegalDataValue, e.ErrorKind())
}

func TestIllegalFunctionCode(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1})
	e.FeedBytes([]byte{0x01, 0x2B})
	require.True(t, e.IsError())
	require.Equal(t, IllegalFunction, e.ErrorKind())
}

func TestLittleEndianAddressAndCRC(t *testing.T) {
	body := []byte{0x01, 0x06, 0x01, 0x00, 0x03, 0x00} // address=1, data=00 03 (low-first)
	wire := frameWithCRC(body, LittleEndian)

	e := newEngine(RoleResponse, Config{SlaveAddress: 1, Endianness: LittleEndian})
	e.FeedBytes(wire)
	require.True(t, e.IsComplete())
	require.Equal(t, uint16(1), e.Address())
}

func TestSwapRegistersAppliesToData(t *testing.T) {
	body := []byte{0x01, 0x03, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
	wire := frameWithCRC(body, BigEndian)

	e := newEngine(RoleResponse, Config{SlaveAddress: 1, SwapRegisters: true, RegisterSize: 2})
	e.FeedBytes(wire)
	require.True(t, e.IsComplete())
	require.Equal(t, []byte{0xBB, 0xAA, 0xDD, 0xCC}, e.Data())
}

func TestCallbacksFireExactlyOnce(t *testing.T) {
	var completes, errs int
	cfg := Config{
		SlaveAddress: 1,
		OnComplete:   func(*FrameEngine) { completes++ },
		OnError:      func(*FrameEngine) { errs++ },
	}
	e := newEngine(RoleResponse, cfg)
	e.FeedBytes([]byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xDA, 0x31})
	require.Equal(t, 1, completes)
	require.Equal(t, 0, errs)

	e2 := newEngine(RoleResponse, cfg)
	e2.FeedBytes([]byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xFF, 0x31})
	require.Equal(t, 1, completes) // unchanged from the other engine
	require.Equal(t, 1, errs)
}

func TestFeedBytesStopsOnError(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1})
	wire := []byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xFF, 0x31, 0x99, 0x99}
	n := e.FeedBytes(wire)
	require.True(t, e.IsError())
	require.Equal(t, 8, n) // the mismatching CRC byte (index 7) was consumed; trailing bytes are not
}

func TestFeedBytesRecoversAfterErrorOnSubsequentCall(t *testing.T) {
	e := newEngine(RoleResponse, Config{SlaveAddress: 1})

	n1 := e.FeedBytes([]byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xFF, 0x31})
	require.True(t, e.IsError())
	require.Equal(t, 8, n1)

	// A fresh FeedBytes call on an engine that is already in StateError must
	// still get the implicit entry-reset Feed performs, not stay wedged.
	n2 := e.FeedBytes([]byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05, 0xDA, 0x31})
	require.Equal(t, 9, n2)
	require.True(t, e.IsComplete())
	require.Equal(t, []byte{0x00, 0x06, 0x00, 0x05}, e.Data())
}

func TestSwapRegistersWithZeroRegisterSizeIsConfigurationError(t *testing.T) {
	// RegisterSize left at its zero value while SwapRegisters is set must
	// surface as ConfigurationError, not panic on the first data byte.
	e := newEngine(RoleResponse, Config{SlaveAddress: 1, SwapRegisters: true})
	e.FeedBytes([]byte{0x01, 0x03, 0x04, 0xAA})
	require.True(t, e.IsError())
	require.Equal(t, ConfigurationError, e.ErrorKind())
}

func TestFlippingAnyBodyByteNeverCompletesWithAlteredContent(t *testing.T) {
	body := []byte{0x01, 0x03, 0x04, 0x00, 0x06, 0x00, 0x05}
	wire := frameWithCRC(body, BigEndian)

	for i := range wire[:len(wire)-2] { // skip the CRC bytes themselves
		flipped := append([]byte{}, wire...)
		flipped[i] ^= 0xFF
		if flipped[i] == wire[i] {
			continue
		}
		e := newEngine(RoleResponse, Config{SlaveAddress: 1})
		e.FeedBytes(flipped)
		if e.IsComplete() {
			t.Fatalf("flipping byte %d produced Complete with altered content: %v", i, flipped)
		}
	}
}
