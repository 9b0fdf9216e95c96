// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

// payloadBuffer accumulates a frame's data bytes (spec.md §4.2). In linear
// mode bytes land in wire order; in swap mode bytes within each
// registerSize-byte register are written back-to-front, reproducing a peer
// that transmits little-endian registers inside an otherwise big-endian
// frame.
//
// The write pointer for swap mode starts at registerSize-1 within the
// current register and walks backward; when a register fills, the pointer
// jumps forward by 2*registerSize and the within-register counter reloads.
// This is the same algorithm as the original ModbusParser::_reverseCopyToken
// (original_source/mbparser.cpp), expressed over a slice index instead of a
// raw pointer.
type payloadBuffer struct {
	data []byte

	swap         bool
	registerSize int

	pos           int
	swapRemaining int
	written       int
}

// newPayloadBuffer allocates a payload buffer of the given size. registerSize
// is ignored unless swap is true, in which case it must be >= 1; swap with a
// registerSize of 0 is a configuration error (spec.md §9) and is reported
// rather than left to panic on the first write.
func newPayloadBuffer(size int, swap bool, registerSize int) (*payloadBuffer, error) {
	if swap && registerSize == 0 {
		return nil, fmt.Errorf("modbus: swap registers requires a non-zero register size")
	}
	b := &payloadBuffer{
		data:         make([]byte, size),
		swap:         swap,
		registerSize: registerSize,
	}
	if swap {
		b.pos = registerSize - 1
		b.swapRemaining = registerSize
	}
	return b, nil
}

// write stores the next data byte and advances the internal write pointer.
func (b *payloadBuffer) write(v byte) {
	b.data[b.pos] = v
	b.written++
	if !b.swap {
		b.pos++
		return
	}
	b.pos--
	b.swapRemaining--
	if b.swapRemaining == 0 {
		b.pos += 2 * b.registerSize
		b.swapRemaining = b.registerSize
	}
}

// bytes returns the accumulated payload. Valid once every byte declared by
// the dispatch table has been written.
func (b *payloadBuffer) bytes() []byte {
	return b.data
}
