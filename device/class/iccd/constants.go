package iccd

// MessageType identifies a CCID message. Values 0x50-0x51 travel on the
// interrupt endpoint, 0x61-0x73 are bulk-OUT requests, 0x80-0x84 are
// bulk-IN responses.
type MessageType uint8

// Interrupt notification message types.
const (
	MessageTypeSlotChange    MessageType = 0x50
	MessageTypeHardwareError MessageType = 0x51
)

// Bulk-OUT request message types.
const (
	MessageTypeSetParameters   MessageType = 0x61
	MessageTypePowerOn         MessageType = 0x62
	MessageTypePowerOff        MessageType = 0x63
	MessageTypeGetSlotStatus   MessageType = 0x65
	MessageTypeSecure          MessageType = 0x69
	MessageTypeT0APDU          MessageType = 0x6A
	MessageTypeEscape          MessageType = 0x6B
	MessageTypeGetParameters   MessageType = 0x6C
	MessageTypeResetParameters MessageType = 0x6D
	MessageTypeICCClock        MessageType = 0x6E
	MessageTypeXfrBlock        MessageType = 0x6F
	MessageTypeMechanical      MessageType = 0x71
	MessageTypeAbort           MessageType = 0x72
	MessageTypeSetRateAndClock MessageType = 0x73
)

// Bulk-IN response message types.
const (
	MessageTypeDataBlock      MessageType = 0x80
	MessageTypeSlotStatus     MessageType = 0x81
	MessageTypeParameters     MessageType = 0x82
	MessageTypeEscapeResponse MessageType = 0x83
	MessageTypeRateAndClock   MessageType = 0x84
)

// BulkHeaderSize is the length of every bulk message header:
// bMessageType, dwLength, bSlot, bSeq, and three type-specific bytes.
const BulkHeaderSize = 10

// DataMaxLength is the largest abData payload carried by a single
// DATA_BLOCK message; larger responses are chained.
const DataMaxLength = 65538

// MaxMessageLength is dwMaxCCIDMessageLength: the extended-APDU maximum
// payload plus the bulk header.
const MaxMessageLength = 65554

// ICCStatus is the bmICCStatus field: card presence and activation state
// of a slot (bits 0-1 of the response status byte).
type ICCStatus uint8

// Slot states.
const (
	ICCStatusActive     ICCStatus = 0 // Card present and powered
	ICCStatusInactive   ICCStatus = 1 // Card present, not powered
	ICCStatusNotPresent ICCStatus = 2 // No card
)

// String returns the CCID name of the slot state.
func (s ICCStatus) String() string {
	switch s {
	case ICCStatusActive:
		return "active"
	case ICCStatusInactive:
		return "inactive"
	case ICCStatusNotPresent:
		return "not present"
	default:
		return "unknown"
	}
}

// CommandStatus is the bmCommandStatus field (bits 6-7 of the response
// status byte).
type CommandStatus uint8

// Command completion states.
const (
	CommandStatusOK      CommandStatus = 0
	CommandStatusFailed  CommandStatus = 1
	CommandStatusTimeExt CommandStatus = 2
)

// ClockStatus is the bClockStatus field of a SlotStatus response.
type ClockStatus uint8

// Clock states.
const (
	ClockStatusRunning  ClockStatus = 0
	ClockStatusStoppedL ClockStatus = 1
	ClockStatusStoppedH ClockStatus = 2
	ClockStatusStopped  ClockStatus = 3
)

// ErrorCode is the bError field of a failed response.
type ErrorCode uint8

// Slot error codes (CCID Rev 1.1, Table 6.2-2).
const (
	ErrorCmdAborted               ErrorCode = 0xFF
	ErrorICCMute                  ErrorCode = 0xFE
	ErrorXfrParityError           ErrorCode = 0xFD
	ErrorXfrOverrun               ErrorCode = 0xFC
	ErrorHWError                  ErrorCode = 0xFB
	ErrorBadATRTS                 ErrorCode = 0xF8
	ErrorBadATRTCK                ErrorCode = 0xF7
	ErrorICCProtocolNotSupported  ErrorCode = 0xF6
	ErrorICCClassNotSupported     ErrorCode = 0xF5
	ErrorProcedureByteConflict    ErrorCode = 0xF4
	ErrorDeactivatedProtocol      ErrorCode = 0xF3
	ErrorBusyWithAutoSequence     ErrorCode = 0xF2
	ErrorPINTimeout               ErrorCode = 0xF0
	ErrorPINCancelled             ErrorCode = 0xEF
	ErrorCmdSlotBusy              ErrorCode = 0xE0
	ErrorCmdNotSupported          ErrorCode = 0
	ErrorBadLength                ErrorCode = 1
	ErrorSlotDoesNotExist         ErrorCode = 5
	ErrorPowerSelectNotSupported  ErrorCode = 7
	ErrorProtocolNumNotSupported  ErrorCode = 7 // parameter-message index
	ErrorBadWLevel                ErrorCode = 8
)

// ChainParameter is the bChainParameter field of DATA_BLOCK messages and
// the wLevelParameter of XFR_BLOCK requests: the position of a message
// within a chained transfer.
type ChainParameter uint16

// Chain positions.
const (
	ChainBeginAndEnd  ChainParameter = 0
	ChainBegin        ChainParameter = 1
	ChainEnd          ChainParameter = 2
	ChainIntermediate ChainParameter = 3
	ChainContinue     ChainParameter = 0x10
)

// chainToStartStop maps a request chain position to (start, stop) flags.
// Unknown values are rejected with ERROR_BAD_WLEVEL.
func chainToStartStop(c ChainParameter) (start, stop, ok bool) {
	switch c {
	case ChainBeginAndEnd:
		return true, true, true
	case ChainBegin:
		return true, false, true
	case ChainEnd:
		return false, true, true
	case ChainIntermediate:
		return false, false, true
	default:
		return false, false, false
	}
}

// startStopToChain is the inverse mapping, used when fragmenting
// responses.
func startStopToChain(start, stop bool) ChainParameter {
	switch {
	case start && stop:
		return ChainBeginAndEnd
	case start:
		return ChainBegin
	case stop:
		return ChainEnd
	default:
		return ChainIntermediate
	}
}

// Class-specific control requests (interface recipient).
const (
	RequestAbort               = 0x01 // OUT: wValue = seq<<8 | slot
	RequestGetClockFrequencies = 0x02 // IN: list of u32 kHz values
	RequestGetDataRates        = 0x03 // IN: list of u32 bps values
)

// SET_PARAMETERS protocol data structure lengths (abProtocolDataStructure).
const (
	SetParametersT0Length = 5
	SetParametersT1Length = 7
)

// Power select values for POWER_ON. Only automatic selection is supported.
const PowerSelectAutomatic = 0

// Protocol numbers.
const (
	ProtocolNumT0 = 0
	ProtocolNumT1 = 1
)

// Endpoint addresses of the function.
const (
	BulkInAddress      = 0x81
	BulkOutAddress     = 0x02
	InterruptInAddress = 0x83
)

// Fixed clock frequency (kHz) and data rate (bps) advertised by the
// descriptor and the GET_CLOCK_FREQUENCIES / GET_DATA_RATES requests.
// The values are those of USB-ICC ICCD rev 1.0 and are meaningless for a
// virtual reader.
const (
	DefaultClockKHz = 3580
	DefaultDataRate = 9600
)
