package iccd

import (
	"encoding/binary"

	"github.com/ardnew/softccid/pkg"
)

// SmartCardClass is the bInterfaceClass of a smart card reader. Subclass
// and protocol are zero for CCID.
const SmartCardClass = 0x0B

// ClassDescriptorType is the bDescriptorType of the class-specific smart
// card descriptor.
const ClassDescriptorType = 0x21

// ClassDescriptorSize is the size of the class descriptor in bytes.
const ClassDescriptorSize = 54

// Standard descriptor codes and sizes used by the function's descriptor
// set. The reader publishes exactly one shape: an interface descriptor,
// the class descriptor, and three endpoints.
const (
	descriptorTypeInterface = 0x04
	descriptorTypeEndpoint  = 0x05

	interfaceDescriptorSize = 9
	endpointDescriptorSize  = 7
)

// Endpoint bmAttributes transfer types.
const (
	endpointTypeBulk      = 0x02
	endpointTypeInterrupt = 0x03
)

// bulkMaxPacketSize is the high-speed packet size published for both bulk
// endpoints.
const bulkMaxPacketSize = 512

// interruptInterval is the bInterval of the slot-change endpoint.
const interruptInterval = 255

// dwFeatures bits (CCID Rev 1.1, Table 5.1-1).
const (
	FeatureAutoConfATR    = 0x00000002
	FeatureAutoActivation = 0x00000004
	FeatureAutoVoltage    = 0x00000008
	FeatureAutoClock      = 0x00000010
	FeatureAutoBaud       = 0x00000020
	FeatureAutoPPSProp    = 0x00000040
	FeatureAutoPPSCur     = 0x00000080
	FeatureCanStopClock   = 0x00000100
	FeatureNADNonZero     = 0x00000200
	FeatureAutoIFSD       = 0x00000400
	FeatureTPDU           = 0x00010000
	FeatureShortAPDU      = 0x00020000
	FeatureExtendedAPDU   = 0x00040000
)

// bVoltageSupport values.
const (
	VoltageSupport5V  = 1
	VoltageSupport3V  = 2
	VoltageSupport18V = 4
)

// dwProtocols bits.
const (
	ProtocolT0 = 0x01
	ProtocolT1 = 0x02
)

// ClassDescriptor is the 54-byte class-specific descriptor of a smart
// card interface (CCID Rev 1.1, Table 5.1-1).
type ClassDescriptor struct {
	Length                uint8
	DescriptorType        uint8
	CCID                  uint16 // bcdCCID
	MaxSlotIndex          uint8
	VoltageSupport        uint8
	Protocols             uint32
	DefaultClock          uint32
	MaximumClock          uint32
	NumClockSupported     uint8
	DataRate              uint32
	MaxDataRate           uint32
	NumDataRatesSupported uint8
	MaxIFSD               uint32
	SynchProtocols        uint32
	Mechanical            uint32
	Features              uint32
	MaxCCIDMessageLength  uint32
	ClassGetResponse      uint8
	ClassEnvelope         uint8
	LcdLayout             uint16
	PINSupport            uint8
	MaxCCIDBusySlots      uint8
}

// MarshalTo serializes the class descriptor to buf.
// Returns the number of bytes written (always 54 if buf is large enough).
func (d *ClassDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ClassDescriptorSize {
		return 0
	}
	buf[0] = ClassDescriptorSize
	buf[1] = ClassDescriptorType
	binary.LittleEndian.PutUint16(buf[2:4], d.CCID)
	buf[4] = d.MaxSlotIndex
	buf[5] = d.VoltageSupport
	binary.LittleEndian.PutUint32(buf[6:10], d.Protocols)
	binary.LittleEndian.PutUint32(buf[10:14], d.DefaultClock)
	binary.LittleEndian.PutUint32(buf[14:18], d.MaximumClock)
	buf[18] = d.NumClockSupported
	binary.LittleEndian.PutUint32(buf[19:23], d.DataRate)
	binary.LittleEndian.PutUint32(buf[23:27], d.MaxDataRate)
	buf[27] = d.NumDataRatesSupported
	binary.LittleEndian.PutUint32(buf[28:32], d.MaxIFSD)
	binary.LittleEndian.PutUint32(buf[32:36], d.SynchProtocols)
	binary.LittleEndian.PutUint32(buf[36:40], d.Mechanical)
	binary.LittleEndian.PutUint32(buf[40:44], d.Features)
	binary.LittleEndian.PutUint32(buf[44:48], d.MaxCCIDMessageLength)
	buf[48] = d.ClassGetResponse
	buf[49] = d.ClassEnvelope
	binary.LittleEndian.PutUint16(buf[50:52], d.LcdLayout)
	buf[52] = d.PINSupport
	buf[53] = d.MaxCCIDBusySlots
	return ClassDescriptorSize
}

// ParseClassDescriptor parses a class descriptor from bytes into out.
// Returns an error if the data is too short or the descriptor type is wrong.
func ParseClassDescriptor(data []byte, out *ClassDescriptor) error {
	if len(data) < ClassDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != ClassDescriptorType {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.CCID = binary.LittleEndian.Uint16(data[2:4])
	out.MaxSlotIndex = data[4]
	out.VoltageSupport = data[5]
	out.Protocols = binary.LittleEndian.Uint32(data[6:10])
	out.DefaultClock = binary.LittleEndian.Uint32(data[10:14])
	out.MaximumClock = binary.LittleEndian.Uint32(data[14:18])
	out.NumClockSupported = data[18]
	out.DataRate = binary.LittleEndian.Uint32(data[19:23])
	out.MaxDataRate = binary.LittleEndian.Uint32(data[23:27])
	out.NumDataRatesSupported = data[27]
	out.MaxIFSD = binary.LittleEndian.Uint32(data[28:32])
	out.SynchProtocols = binary.LittleEndian.Uint32(data[32:36])
	out.Mechanical = binary.LittleEndian.Uint32(data[36:40])
	out.Features = binary.LittleEndian.Uint32(data[40:44])
	out.MaxCCIDMessageLength = binary.LittleEndian.Uint32(data[44:48])
	out.ClassGetResponse = data[48]
	out.ClassEnvelope = data[49]
	out.LcdLayout = binary.LittleEndian.Uint16(data[50:52])
	out.PINSupport = data[52]
	out.MaxCCIDBusySlots = data[53]
	return nil
}

// classDescriptor builds the descriptor advertising this reader: T=1
// only, 5V, one fixed clock and data rate, automatic everything, extended
// APDU exchange.
func (f *Function) classDescriptor() ClassDescriptor {
	return ClassDescriptor{
		Length:         ClassDescriptorSize,
		DescriptorType: ClassDescriptorType,
		CCID:           0x0110,
		MaxSlotIndex:   uint8(len(f.slots) - 1),
		VoltageSupport: VoltageSupport5V,
		Protocols:      ProtocolT1,
		DefaultClock:   DefaultClockKHz,
		MaximumClock:   DefaultClockKHz,
		// Zero means a single fixed value for both counts.
		NumClockSupported:     0,
		DataRate:              DefaultDataRate,
		MaxDataRate:           DefaultDataRate,
		NumDataRatesSupported: 0,
		MaxIFSD:               254,
		Features: FeatureAutoConfATR |
			FeatureAutoVoltage |
			FeatureAutoClock |
			FeatureAutoBaud |
			FeatureAutoPPSProp |
			FeatureAutoIFSD |
			FeatureExtendedAPDU,
		MaxCCIDMessageLength: MaxMessageLength,
		ClassGetResponse:     0xFF,
		ClassEnvelope:        0xFF,
		MaxCCIDBusySlots:     uint8(len(f.slots)),
	}
}

// appendInterfaceDescriptor appends the reader's 9-byte interface
// descriptor. Interface number and string index are left zero for the
// gadget composer to assign.
func appendInterfaceDescriptor(buf []byte) []byte {
	return append(buf,
		interfaceDescriptorSize,
		descriptorTypeInterface,
		0, // bInterfaceNumber
		0, // bAlternateSetting
		3, // bNumEndpoints
		SmartCardClass,
		0, // bInterfaceSubClass
		0, // bInterfaceProtocol
		0, // iInterface
	)
}

// appendEndpointDescriptor appends one 7-byte endpoint descriptor.
func appendEndpointDescriptor(buf []byte, address, attributes uint8, maxPacket uint16, interval uint8) []byte {
	return append(buf,
		endpointDescriptorSize,
		descriptorTypeEndpoint,
		address,
		attributes,
		byte(maxPacket),
		byte(maxPacket>>8),
		interval,
	)
}

// DescriptorSetSize is the encoded length of the function's descriptor
// set.
const DescriptorSetSize = interfaceDescriptorSize + ClassDescriptorSize +
	3*endpointDescriptorSize

// Descriptors returns the function's descriptor set for gadget
// registration: the interface descriptor, the class descriptor, and the
// three endpoints in the order the reader exposes them. The interrupt
// endpoint's packet size follows the slot count.
func (f *Function) Descriptors() []byte {
	buf := make([]byte, 0, DescriptorSetSize)
	buf = appendInterfaceDescriptor(buf)

	class := make([]byte, ClassDescriptorSize)
	cd := f.classDescriptor()
	cd.MarshalTo(class)
	buf = append(buf, class...)

	buf = appendEndpointDescriptor(buf, BulkInAddress, endpointTypeBulk, bulkMaxPacketSize, 0)
	buf = appendEndpointDescriptor(buf, BulkOutAddress, endpointTypeBulk, bulkMaxPacketSize, 0)
	buf = appendEndpointDescriptor(buf, InterruptInAddress, endpointTypeInterrupt,
		uint16(InterruptPacketSize(len(f.slots))), interruptInterval)
	return buf
}
