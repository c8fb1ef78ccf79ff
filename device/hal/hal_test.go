package hal

import "testing"

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want SetupPacket
		ok   bool
	}{
		{
			name: "class IN interface",
			data: []byte{0xA1, 0x02, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00},
			want: SetupPacket{
				RequestType: 0xA1,
				Request:     0x02,
				Value:       0,
				Index:       0,
				Length:      4,
			},
			ok: true,
		},
		{
			name: "class OUT abort",
			data: []byte{0x21, 0x01, 0x00, 0x07, 0x00, 0x00, 0x00, 0x00},
			want: SetupPacket{
				RequestType: 0x21,
				Request:     0x01,
				Value:       0x0700,
				Index:       0,
				Length:      0,
			},
			ok: true,
		},
		{
			name: "standard GET_DESCRIPTOR",
			data: []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			want: SetupPacket{
				RequestType: 0x80,
				Request:     0x06,
				Value:       0x0100,
				Index:       0,
				Length:      18,
			},
			ok: true,
		},
		{
			name: "too short",
			data: []byte{0x80, 0x06, 0x00},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			if ok := ParseSetupPacket(tt.data, &got); ok != tt.ok {
				t.Fatalf("ParseSetupPacket() = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if got != tt.want {
				t.Errorf("ParseSetupPacket() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetupPacketMarshalRoundTrip(t *testing.T) {
	want := SetupPacket{
		RequestType: 0x21,
		Request:     0x01,
		Value:       0x0700,
		Index:       0x0002,
		Length:      8,
	}

	buf := make([]byte, SetupPacketSize)
	if n := want.MarshalTo(buf); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}
	var got SetupPacket
	if !ParseSetupPacket(buf, &got) {
		t.Fatal("ParseSetupPacket() failed on marshalled packet")
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}

	if n := want.MarshalTo(make([]byte, 4)); n != 0 {
		t.Errorf("MarshalTo() = %d for short buffer, want 0", n)
	}
}

func TestSetupPacketHelpers(t *testing.T) {
	tests := []struct {
		name      string
		packet    SetupPacket
		isIn      bool
		isClass   bool
		recipient uint8
	}{
		{
			name:      "class IN interface",
			packet:    SetupPacket{RequestType: 0xA1},
			isIn:      true,
			isClass:   true,
			recipient: RequestRecipientInterface,
		},
		{
			name:      "class OUT interface",
			packet:    SetupPacket{RequestType: 0x21},
			isIn:      false,
			isClass:   true,
			recipient: RequestRecipientInterface,
		},
		{
			name:      "standard IN device",
			packet:    SetupPacket{RequestType: 0x80},
			isIn:      true,
			isClass:   false,
			recipient: RequestRecipientDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.packet.IsIn(); got != tt.isIn {
				t.Errorf("IsIn() = %v, want %v", got, tt.isIn)
			}
			if got := tt.packet.IsClass(); got != tt.isClass {
				t.Errorf("IsClass() = %v, want %v", got, tt.isClass)
			}
			if got := tt.packet.IsStandard(); got == tt.isClass {
				t.Errorf("IsStandard() = %v with IsClass() = %v", got, tt.isClass)
			}
			if got := tt.packet.Recipient(); got != tt.recipient {
				t.Errorf("Recipient() = %d, want %d", got, tt.recipient)
			}
		})
	}
}
