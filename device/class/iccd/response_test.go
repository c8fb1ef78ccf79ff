package iccd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/softccid/pkg"
)

func TestPackStatus(t *testing.T) {
	tests := []struct {
		name string
		icc  ICCStatus
		cmd  CommandStatus
		want byte
	}{
		{"active ok", ICCStatusActive, CommandStatusOK, 0x00},
		{"inactive ok", ICCStatusInactive, CommandStatusOK, 0x01},
		{"not present ok", ICCStatusNotPresent, CommandStatusOK, 0x02},
		{"not present failed", ICCStatusNotPresent, CommandStatusFailed, 0x42},
		{"active time extension", ICCStatusActive, CommandStatusTimeExt, 0x80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := packStatus(tt.icc, tt.cmd); got != tt.want {
				t.Errorf("packStatus() = 0x%02X, want 0x%02X", got, tt.want)
			}
			icc, cmd := unpackStatus(tt.want)
			if icc != tt.icc || cmd != tt.cmd {
				t.Errorf("unpackStatus(0x%02X) = (%v, %v), want (%v, %v)",
					tt.want, icc, cmd, tt.icc, tt.cmd)
			}
		})
	}
}

func TestUnpackStatusIgnoresReservedBits(t *testing.T) {
	// Bits 2-5 are reserved: any value there must be discarded.
	icc, cmd := unpackStatus(0x42 | 0x3C)
	if icc != ICCStatusNotPresent {
		t.Errorf("ICCStatus = %v, want %v", icc, ICCStatusNotPresent)
	}
	if cmd != CommandStatusFailed {
		t.Errorf("CommandStatus = %v, want %v", cmd, CommandStatusFailed)
	}
}

func TestResponseEncodeSlotStatus(t *testing.T) {
	// The literal wire form of a GET_SLOT_STATUS reply for an absent card:
	// seq 7, bmICCStatus not-present, command OK, clock running.
	resp := &Response{
		Type:      MessageTypeSlotStatus,
		Slot:      0,
		Seq:       0x07,
		ICCStatus: ICCStatusNotPresent,
		Param:     uint8(ClockStatusRunning),
	}
	want := []byte{0x81, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07, 0x02, 0x00, 0x00}
	if got := resp.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestResponseEncodeWithBody(t *testing.T) {
	resp := &Response{
		Type:      MessageTypeDataBlock,
		Slot:      1,
		Seq:       9,
		ICCStatus: ICCStatusActive,
		Param:     uint8(ChainBeginAndEnd),
		Body:      []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80},
	}
	got := resp.Encode()
	if len(got) != BulkHeaderSize+6 {
		t.Fatalf("Encode() length = %d, want %d", len(got), BulkHeaderSize+6)
	}
	// dwLength equals the body length.
	if got[1] != 6 || got[2] != 0 || got[3] != 0 || got[4] != 0 {
		t.Errorf("dwLength bytes = % x, want 06 00 00 00", got[1:5])
	}
	if !bytes.Equal(got[BulkHeaderSize:], resp.Body) {
		t.Errorf("body = % x, want % x", got[BulkHeaderSize:], resp.Body)
	}
}

func TestResponseHeaderAlwaysTenBytes(t *testing.T) {
	// Every response type of the family serialises a 10-byte header.
	types := []MessageType{
		MessageTypeDataBlock,
		MessageTypeSlotStatus,
		MessageTypeParameters,
		MessageTypeEscapeResponse,
		MessageTypeRateAndClock,
	}
	for _, typ := range types {
		resp := &Response{Type: typ, Seq: 1}
		if got := len(resp.Encode()); got != BulkHeaderSize {
			t.Errorf("Encode(%#02x) length = %d, want %d", byte(typ), got, BulkHeaderSize)
		}
	}
}

func TestParseResponseRoundTrip(t *testing.T) {
	want := &Response{
		Type:          MessageTypeDataBlock,
		Slot:          2,
		Seq:           0x11,
		ICCStatus:     ICCStatusInactive,
		CommandStatus: CommandStatusFailed,
		Error:         ErrorICCMute,
		Param:         uint8(ChainBeginAndEnd),
		Body:          []byte{1, 2, 3},
	}
	var got Response
	if err := ParseResponse(want.Encode(), &got); err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if got.Type != want.Type || got.Slot != want.Slot || got.Seq != want.Seq ||
		got.ICCStatus != want.ICCStatus || got.CommandStatus != want.CommandStatus ||
		got.Error != want.Error || got.Param != want.Param ||
		!bytes.Equal(got.Body, want.Body) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestParseResponseTruncatedBody(t *testing.T) {
	resp := &Response{Type: MessageTypeDataBlock, Body: []byte{1, 2, 3, 4}}
	data := resp.Encode()[:BulkHeaderSize+2]
	var got Response
	if err := ParseResponse(data, &got); !errors.Is(err, pkg.ErrMessageTooShort) {
		t.Errorf("ParseResponse() error = %v, want %v", err, pkg.ErrMessageTooShort)
	}
}

func TestResponseTypeFor(t *testing.T) {
	tests := []struct {
		request MessageType
		want    MessageType
	}{
		{MessageTypePowerOn, MessageTypeDataBlock},
		{MessageTypeXfrBlock, MessageTypeDataBlock},
		{MessageTypeSecure, MessageTypeDataBlock},
		{MessageTypePowerOff, MessageTypeSlotStatus},
		{MessageTypeGetSlotStatus, MessageTypeSlotStatus},
		{MessageTypeICCClock, MessageTypeSlotStatus},
		{MessageTypeT0APDU, MessageTypeSlotStatus},
		{MessageTypeMechanical, MessageTypeSlotStatus},
		{MessageTypeAbort, MessageTypeSlotStatus},
		{MessageTypeGetParameters, MessageTypeParameters},
		{MessageTypeResetParameters, MessageTypeParameters},
		{MessageTypeSetParameters, MessageTypeParameters},
		{MessageTypeEscape, MessageTypeEscapeResponse},
		{MessageTypeSetRateAndClock, MessageTypeRateAndClock},
	}

	for _, tt := range tests {
		if got := responseTypeFor(tt.request); got != tt.want {
			t.Errorf("responseTypeFor(%#02x) = %#02x, want %#02x",
				byte(tt.request), byte(got), byte(tt.want))
		}
	}
}

func TestT1ParameterBlock(t *testing.T) {
	block := t1ParameterBlock()
	if len(block) != SetParametersT1Length {
		t.Fatalf("len = %d, want %d", len(block), SetParametersT1Length)
	}
	want := []byte{0x11, 0x11, 0xFE, 0x55, 0x03, 0xFE, 0x00}
	if !bytes.Equal(block, want) {
		t.Errorf("t1ParameterBlock() = % x, want % x", block, want)
	}
}

func TestNewResponseCopiesRequestIdentity(t *testing.T) {
	req, err := DecodeRequest(request(MessageTypeGetSlotStatus, 3, 0x42, [3]byte{}, nil))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	resp := newResponse(req, ICCStatusInactive)
	if resp.Type != MessageTypeSlotStatus {
		t.Errorf("Type = %#02x, want %#02x", byte(resp.Type), byte(MessageTypeSlotStatus))
	}
	if resp.Slot != 3 || resp.Seq != 0x42 {
		t.Errorf("identity = slot %d seq %d, want slot 3 seq 0x42", resp.Slot, resp.Seq)
	}
	if resp.CommandStatus != CommandStatusOK || resp.Error != 0 {
		t.Errorf("defaults = (%v, %v), want (OK, 0)", resp.CommandStatus, resp.Error)
	}

	fail := newErrorResponse(req, ICCStatusNotPresent, ErrorSlotDoesNotExist)
	if fail.CommandStatus != CommandStatusFailed || fail.Error != ErrorSlotDoesNotExist {
		t.Errorf("error response = (%v, %v), want (Failed, %d)",
			fail.CommandStatus, fail.Error, ErrorSlotDoesNotExist)
	}
}
