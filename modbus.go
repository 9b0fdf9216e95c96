// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package modbus provides an incremental, byte-driven parser for Modbus RTU
frames. It does not transmit, and it does not own a transport: callers feed
it bytes as they arrive off the wire and read the decoded frame back once
the parser reaches a terminal state.
*/
package modbus

import "fmt"

// Supported function codes. Any other code is IllegalFunction unless the
// high bit is set, in which case it is a Modbus exception response.
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
)

// exceptionBit marks a response function code as a Modbus exception.
const exceptionBit byte = 0x80

// ErrorKind classifies why a parse terminated in the Error state.
type ErrorKind uint8

// ErrorKind values. The numeric values below 21 match the Modbus exception
// codes they are sourced from (spec.md §7); CRCError and ConfigurationError
// are local additions with no wire representation.
const (
	NoError ErrorKind = 0

	IllegalFunction    ErrorKind = 1
	IllegalDataAddress ErrorKind = 2
	IllegalDataValue   ErrorKind = 3
	SlaveDeviceFailure ErrorKind = 4
	Acknowledge        ErrorKind = 5
	SlaveDeviceBusy    ErrorKind = 6
	MemoryParityError  ErrorKind = 8

	CRCError ErrorKind = 21
	// ConfigurationError reports a Config that cannot be honored, such as
	// SwapRegisters set with RegisterSize left at 0 (spec.md §9).
	ConfigurationError ErrorKind = 22
)

// String names an ErrorKind the way the teacher's Error.Error() names
// exception codes.
func (e ErrorKind) String() string {
	switch e {
	case NoError:
		return "no error"
	case IllegalFunction:
		return "illegal function"
	case IllegalDataAddress:
		return "illegal data address"
	case IllegalDataValue:
		return "illegal data value"
	case SlaveDeviceFailure:
		return "slave device failure"
	case Acknowledge:
		return "acknowledge"
	case SlaveDeviceBusy:
		return "slave device busy"
	case MemoryParityError:
		return "memory parity error"
	case CRCError:
		return "crc error"
	case ConfigurationError:
		return "configuration error"
	default:
		return "unknown"
	}
}

// FrameError reports why a FrameEngine landed in the Error state.
type FrameError struct {
	Kind         ErrorKind
	FunctionCode byte
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	return fmt.Sprintf("modbus: %s, function %#x", e.Kind, e.FunctionCode&0x7F)
}

// isSupportedFunctionCode reports whether fc is one of the eight function
// codes this parser understands (spec.md §6). Exception responses (high
// bit set) are handled separately by the engine.
func isSupportedFunctionCode(fc byte) bool {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return true
	default:
		return false
	}
}
