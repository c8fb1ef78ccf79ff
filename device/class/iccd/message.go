package iccd

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softccid/pkg"
)

// BulkHeader is the 10-byte header common to every bulk CCID message.
// Length counts the abData payload following the header; the three
// Param bytes are type-specific.
type BulkHeader struct {
	Type   MessageType // bMessageType
	Length uint32      // dwLength
	Slot   uint8       // bSlot
	Seq    uint8       // bSeq
	Param  [3]byte     // message-specific bytes 7..9
}

// ParseBulkHeader parses a bulk message header from data into out.
// Returns an error if data is shorter than the header.
func ParseBulkHeader(data []byte, out *BulkHeader) error {
	if len(data) < BulkHeaderSize {
		return pkg.ErrMessageTooShort
	}
	out.Type = MessageType(data[0])
	out.Length = binary.LittleEndian.Uint32(data[1:5])
	out.Slot = data[5]
	out.Seq = data[6]
	copy(out.Param[:], data[7:10])
	return nil
}

// MarshalTo writes the header to buf.
// Returns the number of bytes written (10), or 0 if buf is too small.
func (h *BulkHeader) MarshalTo(buf []byte) int {
	if len(buf) < BulkHeaderSize {
		return 0
	}
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[1:5], h.Length)
	buf[5] = h.Slot
	buf[6] = h.Seq
	copy(buf[7:10], h.Param[:])
	return BulkHeaderSize
}

// RequestKind is the concrete variant of a decoded request, keyed by
// bMessageType and, where the message family requires it, by further
// discriminators: bProtocolNum for SET_PARAMETERS, wLevelParameter and
// bPINOperation for SECURE.
type RequestKind int

// Request variants.
const (
	KindInvalid RequestKind = iota
	KindPowerOn
	KindPowerOff
	KindGetSlotStatus
	KindXfrBlock
	KindGetParameters
	KindResetParameters
	KindSetParametersT0
	KindSetParametersT1
	KindSetParameters // bProtocolNum outside {0, 1}
	KindEscape
	KindICCClock
	KindT0APDU
	KindSecure
	KindPINVerification
	KindPINModification
	KindMechanical
	KindAbort
	KindSetRateAndClock
)

// String returns the variant name.
func (k RequestKind) String() string {
	switch k {
	case KindPowerOn:
		return "PC_to_RDR_IccPowerOn"
	case KindPowerOff:
		return "PC_to_RDR_IccPowerOff"
	case KindGetSlotStatus:
		return "PC_to_RDR_GetSlotStatus"
	case KindXfrBlock:
		return "PC_to_RDR_XfrBlock"
	case KindGetParameters:
		return "PC_to_RDR_GetParameters"
	case KindResetParameters:
		return "PC_to_RDR_ResetParameters"
	case KindSetParametersT0, KindSetParametersT1, KindSetParameters:
		return "PC_to_RDR_SetParameters"
	case KindEscape:
		return "PC_to_RDR_Escape"
	case KindICCClock:
		return "PC_to_RDR_IccClock"
	case KindT0APDU:
		return "PC_to_RDR_T0APDU"
	case KindSecure, KindPINVerification, KindPINModification:
		return "PC_to_RDR_Secure"
	case KindMechanical:
		return "PC_to_RDR_Mechanical"
	case KindAbort:
		return "PC_to_RDR_Abort"
	case KindSetRateAndClock:
		return "PC_to_RDR_SetDataRateAndClockFrequency"
	default:
		return "invalid"
	}
}

// Request is a bulk-OUT message decoded from the wire: the fixed header,
// the resolved variant, and the abData payload.
type Request struct {
	Header BulkHeader
	Kind   RequestKind
	Body   []byte
}

// DecodeRequest decodes a received bulk-OUT buffer into a typed request.
//
// A buffer shorter than the bulk header yields pkg.ErrMessageTooShort and
// no request. A type byte with no mapping yields pkg.ErrInvalidMessageType
// together with the parsed request (Kind KindInvalid), so the caller can
// still address a response to the offending bSlot/bSeq.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}
	if err := ParseBulkHeader(data, &req.Header); err != nil {
		return nil, err
	}
	req.Body = data[BulkHeaderSize:]
	req.Kind = guessKind(&req.Header, req.Body)
	if req.Kind == KindInvalid {
		return req, fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidMessageType, byte(req.Header.Type))
	}
	return req, nil
}

// guessKind resolves the concrete variant of a bulk-OUT message from its
// discriminators.
func guessKind(h *BulkHeader, body []byte) RequestKind {
	switch h.Type {
	case MessageTypePowerOn:
		return KindPowerOn
	case MessageTypePowerOff:
		return KindPowerOff
	case MessageTypeGetSlotStatus:
		return KindGetSlotStatus
	case MessageTypeXfrBlock:
		return KindXfrBlock
	case MessageTypeGetParameters:
		return KindGetParameters
	case MessageTypeResetParameters:
		return KindResetParameters
	case MessageTypeSetParameters:
		switch h.Param[0] {
		case ProtocolNumT0:
			return KindSetParametersT0
		case ProtocolNumT1:
			return KindSetParametersT1
		default:
			return KindSetParameters
		}
	case MessageTypeEscape:
		return KindEscape
	case MessageTypeICCClock:
		return KindICCClock
	case MessageTypeT0APDU:
		return KindT0APDU
	case MessageTypeSecure:
		return guessSecureKind(h, body)
	case MessageTypeMechanical:
		return KindMechanical
	case MessageTypeAbort:
		return KindAbort
	case MessageTypeSetRateAndClock:
		return KindSetRateAndClock
	default:
		return KindInvalid
	}
}

// guessSecureKind distinguishes the SECURE sub-family. A wLevelParameter
// beginning (0) or continuing at start (1) a transfer carries a PIN
// operation block whose first payload byte selects verification or
// modification; other levels are opaque continuations.
func guessSecureKind(h *BulkHeader, body []byte) RequestKind {
	level := binary.LittleEndian.Uint16(h.Param[1:3])
	if level != 0 && level != 1 {
		return KindSecure
	}
	if len(body) == 0 {
		return KindSecure
	}
	switch body[0] {
	case 0:
		return KindPINVerification
	case 1:
		return KindPINModification
	default:
		return KindSecure
	}
}

// PowerSelect returns the bPowerSelect byte of a POWER_ON request.
func (r *Request) PowerSelect() uint8 {
	return r.Header.Param[0]
}

// BWI returns the block waiting time multiplier of an XFR_BLOCK or SECURE
// request.
func (r *Request) BWI() uint8 {
	return r.Header.Param[0]
}

// LevelParameter returns the wLevelParameter of an XFR_BLOCK or SECURE
// request.
func (r *Request) LevelParameter() ChainParameter {
	return ChainParameter(binary.LittleEndian.Uint16(r.Header.Param[1:3]))
}

// ProtocolNum returns the bProtocolNum byte of a SET_PARAMETERS request.
func (r *Request) ProtocolNum() uint8 {
	return r.Header.Param[0]
}

// ClockCommand returns the bClockCommand byte of an ICC_CLOCK request.
func (r *Request) ClockCommand() uint8 {
	return r.Header.Param[0]
}
