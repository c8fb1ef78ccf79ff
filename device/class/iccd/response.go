package iccd

import (
	"encoding/binary"

	"github.com/ardnew/softccid/pkg"
)

// Status byte layout: bmICCStatus in bits 0-1, bits 2-5 reserved,
// bmCommandStatus in bits 6-7. The reserved bits are written as zero and
// masked off on receive.
const (
	iccStatusMask      = 0x03
	commandStatusShift = 6
	commandStatusMask  = 0x03
)

// packStatus packs the shared slot/command status byte.
func packStatus(icc ICCStatus, cmd CommandStatus) byte {
	return byte(icc)&iccStatusMask | (byte(cmd)&commandStatusMask)<<commandStatusShift
}

// unpackStatus splits the shared status byte, ignoring the reserved bits.
func unpackStatus(b byte) (ICCStatus, CommandStatus) {
	return ICCStatus(b & iccStatusMask), CommandStatus(b >> commandStatusShift & commandStatusMask)
}

// Response is a bulk-IN message. Every response serialises to a uniform
// 10-byte header (type, dwLength, slot, seq, status, error, and one
// type-specific byte) followed by the body counted by dwLength.
//
// The meaning of Param depends on Type: bChainParameter for DATA_BLOCK,
// bClockStatus for SLOT_STATUS, bProtocolNum for PARAMETERS, reserved
// otherwise.
type Response struct {
	Type          MessageType
	Slot          uint8
	Seq           uint8
	ICCStatus     ICCStatus
	CommandStatus CommandStatus
	Error         ErrorCode
	Param         uint8
	Body          []byte
}

// responseTypeFor returns the bulk-IN message type answering the given
// bulk-OUT type. Unknown request types are answered with a SLOT_STATUS
// shape, which carries no payload.
func responseTypeFor(t MessageType) MessageType {
	switch t {
	case MessageTypePowerOn, MessageTypeXfrBlock, MessageTypeSecure:
		return MessageTypeDataBlock
	case MessageTypeGetParameters, MessageTypeResetParameters, MessageTypeSetParameters:
		return MessageTypeParameters
	case MessageTypeEscape:
		return MessageTypeEscapeResponse
	case MessageTypeSetRateAndClock:
		return MessageTypeRateAndClock
	default:
		// POWER_OFF, GET_SLOT_STATUS, ICC_CLOCK, T0_APDU, MECHANICAL, ABORT
		return MessageTypeSlotStatus
	}
}

// newResponse builds the response skeleton for req: the message type
// matching the request, bSlot and bSeq echoed, the slot's presence state,
// and a successful command status.
func newResponse(req *Request, status ICCStatus) *Response {
	return &Response{
		Type:      responseTypeFor(req.Header.Type),
		Slot:      req.Header.Slot,
		Seq:       req.Header.Seq,
		ICCStatus: status,
	}
}

// newErrorResponse builds a failed response carrying the given slot error.
func newErrorResponse(req *Request, status ICCStatus, code ErrorCode) *Response {
	r := newResponse(req, status)
	r.CommandStatus = CommandStatusFailed
	r.Error = code
	return r
}

// Size returns the encoded length of the response.
func (r *Response) Size() int {
	return BulkHeaderSize + len(r.Body)
}

// MarshalHeaderTo writes the 10-byte response header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *Response) MarshalHeaderTo(buf []byte) int {
	if len(buf) < BulkHeaderSize {
		return 0
	}
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(r.Body)))
	buf[5] = r.Slot
	buf[6] = r.Seq
	buf[7] = packStatus(r.ICCStatus, r.CommandStatus)
	buf[8] = byte(r.Error)
	buf[9] = r.Param
	return BulkHeaderSize
}

// Encode returns the full wire form of the response: header plus body.
func (r *Response) Encode() []byte {
	buf := make([]byte, r.Size())
	r.MarshalHeaderTo(buf)
	copy(buf[BulkHeaderSize:], r.Body)
	return buf
}

// ParseResponse decodes a bulk-IN buffer into out. Reserved status bits
// are tolerated and discarded. The body is sliced, not copied.
func ParseResponse(data []byte, out *Response) error {
	var h BulkHeader
	if err := ParseBulkHeader(data, &h); err != nil {
		return err
	}
	if len(data)-BulkHeaderSize < int(h.Length) {
		return pkg.ErrMessageTooShort
	}
	out.Type = h.Type
	out.Slot = h.Slot
	out.Seq = h.Seq
	out.ICCStatus, out.CommandStatus = unpackStatus(h.Param[0])
	out.Error = ErrorCode(h.Param[1])
	out.Param = h.Param[2]
	out.Body = data[BulkHeaderSize : BulkHeaderSize+int(h.Length)]
	return nil
}

// t1ParameterBlock returns the canonical T=1 abProtocolDataStructure this
// reader reports for every parameter request. Parameters are fixed: the
// reader negotiates nothing.
func t1ParameterBlock() []byte {
	return []byte{
		0x11,                     // bmFindexDindex
		0x11,                     // bmTCCKST1
		0xFE,                     // bGuardTimeT1
		0x55,                     // bmWaitingIntegersT1
		byte(ClockStatusStopped), // bClockStop
		0xFE,                     // bIFSC
		0x00,                     // bNadValue
	}
}
