package iccd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softccid/device/hal"
	"github.com/ardnew/softccid/pkg"
)

var (
	logFunction = pkg.Log(pkg.ComponentFunction)
	logCodec    = pkg.Log(pkg.ComponentCodec)
	logNotify   = pkg.Log(pkg.ComponentNotify)
)

// Function is one CCID reader function: a set of slots behind a pair of
// bulk endpoints, a slot-change interrupt endpoint, and the class
// requests on endpoint 0.
//
// All slot state is owned by the function and serialised on one mutex:
// the bulk service loop, SETUP callbacks, and the application's
// Insert/Remove never observe a slot mid-operation, and per-slot
// responses are emitted in request order.
type Function struct {
	mu    sync.Mutex
	slots []*Slot

	// Host-enabled flag; gates the interrupt notifier.
	enabled bool

	// Fixed clock (kHz) and rate (bps) tables reported on endpoint 0.
	clocks []uint32
	rates  []uint32

	// Endpoint files, populated by Attach.
	ep0     hal.ControlFile
	bulkIn  hal.EndpointFile
	bulkOut hal.EndpointFile
	intIn   hal.EndpointFile
}

// New creates a reader function exposing slotCount empty slots.
// The slot count must fit the descriptor's bMaxCCIDBusySlots byte.
func New(slotCount int) (*Function, error) {
	if slotCount < 1 || slotCount > 255 {
		return nil, fmt.Errorf("%w: %d", pkg.ErrInvalidSlotCount, slotCount)
	}
	f := &Function{
		clocks: []uint32{DefaultClockKHz},
		rates:  []uint32{DefaultDataRate},
	}
	f.slots = make([]*Slot, slotCount)
	for i := range f.slots {
		f.slots[i] = newSlot(uint8(i), f.notifySlotChangeLocked)
	}
	return f, nil
}

// SlotCount returns the number of slots the reader exposes.
func (f *Function) SlotCount() int {
	return len(f.slots)
}

// Attach connects the function to its gadget glue: endpoint files are
// resolved and the function registers for lifecycle and SETUP events.
func (f *Function) Attach(h hal.HAL) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bulkIn, err := h.Endpoint(BulkInAddress)
	if err != nil {
		return fmt.Errorf("bulk IN: %w", err)
	}
	bulkOut, err := h.Endpoint(BulkOutAddress)
	if err != nil {
		return fmt.Errorf("bulk OUT: %w", err)
	}
	intIn, err := h.Endpoint(InterruptInAddress)
	if err != nil {
		return fmt.Errorf("interrupt IN: %w", err)
	}
	if err := h.Register(f); err != nil {
		return err
	}
	f.ep0 = h.EP0()
	f.bulkIn = bulkIn
	f.bulkOut = bulkOut
	f.intIn = intIn
	return nil
}

// Insert binds card into the slot with the given index.
// Fails with pkg.ErrCardPresent if the slot is occupied.
func (f *Function) Insert(slot int, card Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot < 0 || slot >= len(f.slots) {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidSlot, slot)
	}
	if err := f.slots[slot].insert(card); err != nil {
		return err
	}
	logFunction.Info("card inserted", "slot", slot)
	return nil
}

// Remove unbinds and returns the card in the slot with the given index.
// Fails with pkg.ErrCardNotPresent if the slot is empty.
func (f *Function) Remove(slot int) (Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot < 0 || slot >= len(f.slots) {
		return nil, fmt.Errorf("%w: %d", pkg.ErrInvalidSlot, slot)
	}
	card, err := f.slots[slot].remove()
	if err != nil {
		return nil, err
	}
	logFunction.Info("card removed", "slot", slot)
	return card, nil
}

// SlotStatus returns the presence and power state of the given slot.
func (f *Function) SlotStatus(slot int) (ICCStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot < 0 || slot >= len(f.slots) {
		return ICCStatusNotPresent, fmt.Errorf("%w: %d", pkg.ErrInvalidSlot, slot)
	}
	return f.slots[slot].Status(), nil
}

// OnBind implements hal.Handler.
func (f *Function) OnBind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	logFunction.Debug("bound")
	f.notifySlotChangeLocked()
	return nil
}

// OnUnbind implements hal.Handler. Every slot is powered down and the
// notifier is disabled.
func (f *Function) OnUnbind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	for _, slot := range f.slots {
		slot.powerOff()
	}
	logFunction.Debug("unbound")
	return nil
}

// OnEnable implements hal.Handler.
func (f *Function) OnEnable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	logFunction.Info("enabled by host")
	f.notifySlotChangeLocked()
	return nil
}

// OnDisable implements hal.Handler. Every slot is powered down and the
// notifier is disabled.
func (f *Function) OnDisable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	for _, slot := range f.slots {
		slot.powerOff()
	}
	logFunction.Info("disabled by host")
	return nil
}

// OnSetup implements hal.Handler: the CCID class requests on endpoint 0.
// Anything unhandled returns an error, instructing the glue to halt
// endpoint 0 with the direction taken from the request type.
func (f *Function) OnSetup(setup hal.SetupPacket) error {
	if !setup.IsClass() || setup.Recipient() != hal.RequestRecipientInterface {
		return pkg.ErrNotSupported
	}
	ctx := context.Background()

	if setup.IsIn() {
		switch setup.Request {
		case RequestGetClockFrequencies:
			return f.writeValueList(ctx, f.clocks, setup.Length)
		case RequestGetDataRates:
			return f.writeValueList(ctx, f.rates, setup.Length)
		}
		return pkg.ErrNotSupported
	}

	if setup.Request == RequestAbort {
		return f.abortFromControl(ctx, uint8(setup.Value), uint8(setup.Value>>8))
	}
	return pkg.ErrNotSupported
}

// writeValueList sends a u32 little-endian table on endpoint 0, truncated
// to the host's wLength.
func (f *Function) writeValueList(ctx context.Context, values []uint32, length uint16) error {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	if len(buf) > int(length) {
		buf = buf[:length]
	}
	if _, err := f.ep0.Write(ctx, buf); err != nil {
		return err
	}
	return nil
}

// abortFromControl drives the control half of the abort rendezvous. When
// the bulk half was already latched for this sequence, its held response
// is released on bulk-IN.
func (f *Function) abortFromControl(ctx context.Context, slotIndex, sequence uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(slotIndex) >= len(f.slots) {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidSlot, slotIndex)
	}
	logFunction.Request("control abort", slotIndex, sequence)
	if resp := f.slots[slotIndex].abortFromControl(sequence); resp != nil {
		if err := f.submitResponses([]*Response{resp}); err != nil {
			return err
		}
	}
	// Acknowledge the status stage.
	if _, err := f.ep0.Read(ctx, nil); err != nil {
		return err
	}
	return nil
}

// Run services the bulk-OUT endpoint until the context is cancelled or
// the endpoint reports shutdown. A failure of the card contract or of an
// endpoint file halts bulk-IN and is returned.
func (f *Function) Run(ctx context.Context) error {
	f.mu.Lock()
	attached := f.bulkOut != nil
	f.mu.Unlock()
	if !attached {
		return pkg.ErrNotConfigured
	}

	buf := make([]byte, MaxMessageLength)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := f.bulkOut.Read(ctx, buf)
		if err != nil {
			if errors.Is(err, pkg.ErrShutdown) {
				logFunction.Debug("bulk OUT shut down")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bulk OUT: %w", err)
		}

		if err := f.handleBulkTransfer(buf[:n]); err != nil {
			f.bulkIn.Halt()
			return err
		}
	}
}

// handleBulkTransfer decodes one bulk-OUT transfer, dispatches it, and
// submits the resulting message stream.
func (f *Function) handleBulkTransfer(data []byte) error {
	req, err := DecodeRequest(data)
	if err != nil {
		if req == nil {
			// Shorter than a header: no bSeq to answer to.
			logCodec.Warn("dropping truncated bulk transfer",
				"length", len(data))
			return nil
		}
		logCodec.Warn("unknown message type",
			"type", byte(req.Header.Type),
			"slot", req.Header.Slot,
			"seq", req.Header.Seq)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	responses, pending, err := f.handleRequest(req)
	if err != nil {
		return err
	}
	// The bulk half of an abort arrived first: the response stays latched
	// until the control half releases it.
	if pending {
		return nil
	}
	return f.submitResponses(responses)
}

// fail builds the single failed response for req and records the
// protocol error it carries.
func (f *Function) fail(req *Request, status ICCStatus, code ErrorCode) []*Response {
	logFunction.Request("command failed", req.Header.Slot, req.Header.Seq,
		pkg.SlotError(uint8(code)))
	return one(newErrorResponse(req, status, code))
}

// handleRequest routes one decoded request to its slot, applying the CCID
// validation rules in order. It returns the ordered responses to emit, or
// pending=true when an abort rendezvous holds the response back. An error
// is an internal failure (card contract), never a protocol result.
//
// Callers hold f.mu.
func (f *Function) handleRequest(req *Request) (responses []*Response, pending bool, err error) {
	// No command may run on a nonexistent slot.
	if int(req.Header.Slot) >= len(f.slots) {
		return f.fail(req, ICCStatusNotPresent, ErrorSlotDoesNotExist), false, nil
	}
	slot := f.slots[req.Header.Slot]
	status := slot.Status()

	// A type byte with no mapping is answered, not dropped.
	if req.Kind == KindInvalid {
		return f.fail(req, status, ErrorCmdNotSupported), false, nil
	}

	// Messages processed regardless of card presence.
	switch req.Header.Type {
	case MessageTypeAbort:
		if req.Header.Length != 0 {
			return f.fail(req, status, ErrorBadLength), false, nil
		}
		resp := newResponse(req, status)
		resp.Param = uint8(ClockStatusRunning)
		held, pending := slot.abortFromBulk(resp)
		if pending {
			logFunction.Request("bulk abort latched", req.Header.Slot, req.Header.Seq)
			return nil, true, nil
		}
		return one(held), false, nil

	case MessageTypePowerOff:
		slot.powerOff()
		resp := newResponse(req, slot.Status())
		resp.Param = uint8(ClockStatusRunning)
		return one(resp), false, nil

	case MessageTypeGetSlotStatus:
		if req.Header.Length != 0 {
			return f.fail(req, status, ErrorBadLength), false, nil
		}
		resp := newResponse(req, status)
		resp.Param = uint8(ClockStatusRunning)
		return one(resp), false, nil

	case MessageTypeSetRateAndClock:
		// Single fixed clock and rate; nothing to negotiate.
		return f.fail(req, status, ErrorCmdNotSupported), false, nil
	}

	// Everything below needs a card in the slot.
	if status == ICCStatusNotPresent {
		return f.fail(req, status, ErrorICCMute), false, nil
	}

	switch req.Header.Type {
	case MessageTypeGetParameters, MessageTypeResetParameters, MessageTypeSetParameters:
		return f.handleParameters(req, slot), false, nil

	case MessageTypeICCClock:
		// The virtual clock cannot be stopped.
		return f.fail(req, status, ErrorCmdNotSupported), false, nil

	case MessageTypeMechanical:
		// No motorised card handling.
		return f.fail(req, status, ErrorCmdNotSupported), false, nil
	}

	// Reject the remaining commands while an abort is in flight.
	if slot.isAborting() {
		return f.fail(req, status, ErrorCmdAborted), false, nil
	}

	switch req.Header.Type {
	case MessageTypePowerOn:
		if req.Header.Length != 0 {
			return f.fail(req, status, ErrorBadLength), false, nil
		}
		if req.PowerSelect() != PowerSelectAutomatic {
			return f.fail(req, status, ErrorPowerSelectNotSupported), false, nil
		}
		atr, err := slot.powerOn()
		if err != nil {
			return nil, false, fmt.Errorf("slot %d: ATR: %w", req.Header.Slot, err)
		}
		resp := newResponse(req, slot.Status())
		resp.Param = uint8(ChainBeginAndEnd)
		resp.Body = atr
		return one(resp), false, nil

	case MessageTypeXfrBlock:
		return f.handleXfrBlock(req, slot)
	}

	// ESCAPE, T0_APDU, SECURE, and anything else the reader does not do.
	return f.fail(req, status, ErrorCmdNotSupported), false, nil
}

// handleParameters answers the three parameter messages. Only T=1 is
// supported and the parameters are fixed, so every successful reply
// echoes the canonical block.
//
// Callers hold f.mu.
func (f *Function) handleParameters(req *Request, slot *Slot) []*Response {
	status := slot.Status()
	if req.Header.Type == MessageTypeSetParameters {
		if req.ProtocolNum() != ProtocolNumT1 {
			return f.fail(req, status, ErrorProtocolNumNotSupported)
		}
		if req.Header.Length != SetParametersT1Length {
			return f.fail(req, status, ErrorBadLength)
		}
	} else if req.Header.Length != 0 {
		return f.fail(req, status, ErrorBadLength)
	}
	resp := newResponse(req, status)
	resp.Param = ProtocolNumT1
	resp.Body = t1ParameterBlock()
	return one(resp)
}

// handleXfrBlock accumulates command APDU fragments and, on the final
// fragment, runs the command and fragments the response.
//
// Callers hold f.mu.
func (f *Function) handleXfrBlock(req *Request, slot *Slot) ([]*Response, bool, error) {
	status := slot.Status()
	if len(req.Body) != int(req.Header.Length) {
		return f.fail(req, status, ErrorBadLength), false, nil
	}
	start, stop, ok := chainToStartStop(req.LevelParameter())
	if !ok {
		return f.fail(req, status, ErrorBadWLevel), false, nil
	}
	if start {
		slot.clearAPDU()
	}
	slot.storeAPDU(req.Body)
	if !stop {
		// More command fragments to come.
		resp := newResponse(req, status)
		resp.Param = uint8(ChainContinue)
		return one(resp), false, nil
	}

	body, err := slot.runAPDU()
	if err != nil {
		return nil, false, fmt.Errorf("slot %d: APDU: %w", req.Header.Slot, err)
	}
	return fragmentResponse(req, slot.Status(), body), false, nil
}

// fragmentResponse splits a response APDU into chained DATA_BLOCK
// messages of at most DataMaxLength bytes each. A body of an exact
// multiple of DataMaxLength is terminated by one final empty END block.
func fragmentResponse(req *Request, status ICCStatus, body []byte) []*Response {
	var out []*Response
	start := true
	for cutoff := 0; ; {
		end := cutoff + DataMaxLength
		if end > len(body) {
			end = len(body)
		}
		chunk := body[cutoff:end]
		cutoff = end
		stop := len(chunk) < DataMaxLength

		resp := newResponse(req, status)
		resp.Param = uint8(startStopToChain(start, stop))
		resp.Body = chunk
		out = append(out, resp)

		if stop {
			return out
		}
		start = false
	}
}

// submitResponses encodes an ordered response group and queues it as one
// bulk-IN submission, keeping chained blocks contiguous.
//
// Callers hold f.mu.
func (f *Function) submitResponses(responses []*Response) error {
	if len(responses) == 0 {
		return pkg.ErrEmptySubmission
	}
	buffers := make([][]byte, 0, 2*len(responses))
	for _, resp := range responses {
		header := make([]byte, BulkHeaderSize)
		resp.MarshalHeaderTo(header)
		buffers = append(buffers, header)
		if len(resp.Body) > 0 {
			buffers = append(buffers, resp.Body)
		}
	}
	if err := f.bulkIn.Submit(buffers); err != nil {
		return fmt.Errorf("bulk IN: %w", err)
	}
	return nil
}

// notifySlotChangeLocked updates the host on all slots which changed
// since the previous notification. Does nothing while the function is
// not host-enabled; reading the flags clears them.
//
// Callers hold f.mu.
func (f *Function) notifySlotChangeLocked() {
	if !f.enabled || f.intIn == nil {
		return
	}
	states := make([]SlotState, len(f.slots))
	for i, slot := range f.slots {
		states[i] = slot.changeNotification()
	}
	if err := f.intIn.Submit([][]byte{EncodeSlotChange(states)}); err != nil {
		logNotify.Warn("slot change notification failed", "error", err)
	}
}

// one wraps a single response as a response group.
func one(resp *Response) []*Response {
	return []*Response{resp}
}

// Compile-time interface check
var _ hal.Handler = (*Function)(nil)
