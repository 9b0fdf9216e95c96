// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// Role distinguishes which side of the wire a FrameEngine is decoding.
type Role int

const (
	// RoleResponse decodes slave -> master replies.
	RoleResponse Role = iota
	// RoleRequest decodes master -> slave requests.
	RoleRequest
)

// dispatchTable is the ordered list of payload-phase tags a FrameEngine
// walks through between FunctionCode and FirstCRC, for one (role, function
// code family) pair (spec.md §4.3). A two-byte field appears as the same
// tag twice in a row, one entry per wire byte.
type dispatchTable []ParserState

var (
	dispatchResponseReadData   = dispatchTable{StateByteCount, StateData}
	dispatchResponseWriteOne   = dispatchTable{StateAddress, StateAddress, StateData}
	dispatchResponseWriteMulti = dispatchTable{StateAddress, StateAddress, StateQuantity, StateQuantity}

	dispatchRequestReadData  = dispatchTable{StateAddress, StateAddress, StateQuantity, StateQuantity}
	dispatchRequestWriteOne  = dispatchTable{StateAddress, StateAddress, StateData}
	dispatchRequestWriteMulti = dispatchTable{
		StateAddress, StateAddress, StateQuantity, StateQuantity, StateByteCount, StateData,
	}
)

// dispatchFor returns the phase table for role and function code fc, and
// whether fc is one this parser supports at all. fc must already have had
// the exception bit masked off by the caller.
func dispatchFor(role Role, fc byte) (dispatchTable, bool) {
	if !isSupportedFunctionCode(fc) {
		return nil, false
	}
	switch role {
	case RoleResponse:
		switch fc {
		case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
			FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
			return dispatchResponseReadData, true
		case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
			return dispatchResponseWriteOne, true
		case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
			return dispatchResponseWriteMulti, true
		}
	case RoleRequest:
		switch fc {
		case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
			FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
			return dispatchRequestReadData, true
		case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
			return dispatchRequestWriteOne, true
		case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
			return dispatchRequestWriteMulti, true
		}
	}
	return nil, false
}
