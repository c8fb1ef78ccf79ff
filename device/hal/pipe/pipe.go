package pipe

import (
	"context"
	"sync"

	"github.com/ardnew/softccid/device/hal"
	"github.com/ardnew/softccid/pkg"
)

// MaxEndpoints is the maximum number of data endpoints (1-15 per direction).
const MaxEndpoints = 15

// queueDepth is the number of in-flight transfers per endpoint.
const queueDepth = 64

var logPipe = pkg.Log(pkg.ComponentPipe)

// HAL implements hal.HAL over in-process channels.
// Each endpoint address maps to an independent transfer queue; the host
// side of every queue is reachable through Host.
type HAL struct {
	mu      sync.Mutex
	handler hal.Handler
	ep0     *controlFile
	eps     map[uint8]*endpointFile

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a new in-process HAL.
func New() *HAL {
	return &HAL{
		ep0:    &controlFile{},
		eps:    make(map[uint8]*endpointFile),
		closed: make(chan struct{}),
	}
}

// Register attaches the function driver that receives events.
func (h *HAL) Register(handler hal.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handler != nil {
		return pkg.ErrAlreadyRunning
	}
	h.handler = handler
	logPipe.Debug("handler registered")
	return nil
}

// EP0 returns the endpoint-0 file.
func (h *HAL) EP0() hal.ControlFile {
	return h.ep0
}

// Endpoint returns the file for the endpoint with the given address,
// creating its queue on first use.
func (h *HAL) Endpoint(address uint8) (hal.EndpointFile, error) {
	num := address & 0x0F
	if num == 0 || num > MaxEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.eps[address]
	if !ok {
		ep = &endpointFile{
			address: address,
			ch:      make(chan []byte, queueDepth),
			closed:  h.closed,
		}
		h.eps[address] = ep
	}
	return ep, nil
}

// Host returns the host-side handle of this HAL.
func (h *HAL) Host() *Host {
	return &Host{hal: h}
}

// Close tears the wire down. Device reads on an empty queue, pending or
// future, return pkg.ErrShutdown; a read while a transfer is still queued
// may return that transfer instead.
func (h *HAL) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		logPipe.Info("pipe closed")
	})
}

// getHandler returns the registered handler, or an error if none.
func (h *HAL) getHandler() (hal.Handler, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handler == nil {
		return nil, pkg.ErrNotConfigured
	}
	return h.handler, nil
}

// getEndpoint returns the queue for address without creating it.
func (h *HAL) getEndpoint(address uint8) (*endpointFile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.eps[address]
	if !ok {
		return nil, pkg.ErrInvalidEndpoint
	}
	return ep, nil
}

// endpointFile is one direction of one endpoint: a queue of transfers.
type endpointFile struct {
	address uint8
	ch      chan []byte
	closed  chan struct{}

	mu     sync.Mutex
	halted bool
}

// Read reads one completed OUT transfer into buf.
func (e *endpointFile) Read(ctx context.Context, buf []byte) (int, error) {
	select {
	case data := <-e.ch:
		if len(data) > len(buf) {
			return 0, pkg.ErrBufferTooSmall
		}
		return copy(buf, data), nil
	case <-e.closed:
		return 0, pkg.ErrShutdown
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write writes one IN transfer.
func (e *endpointFile) Write(ctx context.Context, data []byte) (int, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case e.ch <- buf:
		return len(data), nil
	case <-e.closed:
		return 0, pkg.ErrShutdown
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Submit queues an ordered buffer list as a single IN transfer.
func (e *endpointFile) Submit(buffers [][]byte) error {
	if len(buffers) == 0 {
		return pkg.ErrEmptySubmission
	}
	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	transfer := make([]byte, 0, total)
	for _, b := range buffers {
		transfer = append(transfer, b...)
	}
	select {
	case e.ch <- transfer:
		return nil
	case <-e.closed:
		return pkg.ErrShutdown
	}
}

// Halt stalls the endpoint.
func (e *endpointFile) Halt() error {
	e.mu.Lock()
	e.halted = true
	e.mu.Unlock()
	logPipe.Debug("endpoint halted", "address", e.address)
	return nil
}

// ClearHalt clears a stall condition on the endpoint.
func (e *endpointFile) ClearHalt() error {
	e.mu.Lock()
	e.halted = false
	e.mu.Unlock()
	logPipe.Debug("endpoint halt cleared", "address", e.address)
	return nil
}

// isHalted reports the stall state, checked by host transfers.
func (e *endpointFile) isHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// controlFile is the endpoint-0 file. Control transfers are synchronous:
// the host composes a SETUP, the handler runs to completion, and the data
// staged through Read/Write moves between the two sides.
type controlFile struct {
	mu        sync.Mutex
	inData    []byte // data stage written by the device (control IN)
	outData   []byte // data stage provided by the host (control OUT)
	haltedIn  bool
	haltedOut bool
}

// Read reads the data or status stage of a control OUT transfer.
func (c *controlFile) Read(ctx context.Context, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(buf, c.outData)
	c.outData = c.outData[n:]
	return n, nil
}

// Write writes the data stage of a control IN transfer.
func (c *controlFile) Write(ctx context.Context, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inData = append(c.inData, data...)
	return len(data), nil
}

// Halt stalls endpoint 0 in the given direction.
func (c *controlFile) Halt(in bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in {
		c.haltedIn = true
	} else {
		c.haltedOut = true
	}
	logPipe.Debug("EP0 halted", "in", in)
	return nil
}

// begin arms endpoint 0 for a new control transfer.
func (c *controlFile) begin(outData []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inData = nil
	c.outData = outData
	c.haltedIn = false
	c.haltedOut = false
}

// finish returns the staged IN data and whether the transfer stalled.
func (c *controlFile) finish(in bool) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in {
		return c.inData, c.haltedIn
	}
	return nil, c.haltedOut
}

// Host is the host side of the pipe: it injects lifecycle events, control
// transfers, and data transfers into the device.
type Host struct {
	hal *HAL
}

// Bind delivers the bind event to the function.
func (ho *Host) Bind() error {
	handler, err := ho.hal.getHandler()
	if err != nil {
		return err
	}
	return handler.OnBind()
}

// Unbind delivers the unbind event to the function.
func (ho *Host) Unbind() error {
	handler, err := ho.hal.getHandler()
	if err != nil {
		return err
	}
	return handler.OnUnbind()
}

// Enable delivers the enable event to the function.
func (ho *Host) Enable() error {
	handler, err := ho.hal.getHandler()
	if err != nil {
		return err
	}
	return handler.OnEnable()
}

// Disable delivers the disable event to the function.
func (ho *Host) Disable() error {
	handler, err := ho.hal.getHandler()
	if err != nil {
		return err
	}
	return handler.OnDisable()
}

// ControlIn performs a device-to-host control transfer.
// Returns the data stage truncated to length, or pkg.ErrStall if the
// handler rejected the request.
func (ho *Host) ControlIn(requestType, request uint8, value, index, length uint16) ([]byte, error) {
	handler, err := ho.hal.getHandler()
	if err != nil {
		return nil, err
	}
	sp := hal.SetupPacket{
		RequestType: requestType | hal.RequestDirectionDeviceToHost,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
	ho.hal.ep0.begin(nil)
	if err := handler.OnSetup(sp); err != nil {
		ho.hal.ep0.Halt(sp.IsIn())
		return nil, pkg.ErrStall
	}
	data, halted := ho.hal.ep0.finish(true)
	if halted {
		return nil, pkg.ErrStall
	}
	if len(data) > int(length) {
		data = data[:length]
	}
	return data, nil
}

// ControlOut performs a host-to-device control transfer.
// Returns pkg.ErrStall if the handler rejected the request.
func (ho *Host) ControlOut(requestType, request uint8, value, index uint16, data []byte) error {
	handler, err := ho.hal.getHandler()
	if err != nil {
		return err
	}
	sp := hal.SetupPacket{
		RequestType: requestType &^ hal.RequestTypeDirectionMask,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
	}
	ho.hal.ep0.begin(data)
	if err := handler.OnSetup(sp); err != nil {
		ho.hal.ep0.Halt(sp.IsIn())
		return pkg.ErrStall
	}
	if _, halted := ho.hal.ep0.finish(false); halted {
		return pkg.ErrStall
	}
	return nil
}

// Out sends one transfer to an OUT endpoint.
func (ho *Host) Out(address uint8, data []byte) error {
	ep, err := ho.hal.getEndpoint(address)
	if err != nil {
		return err
	}
	if ep.isHalted() {
		return pkg.ErrStall
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case ep.ch <- buf:
		return nil
	case <-ho.hal.closed:
		return pkg.ErrShutdown
	}
}

// In receives one transfer from an IN endpoint.
func (ho *Host) In(ctx context.Context, address uint8) ([]byte, error) {
	ep, err := ho.hal.getEndpoint(address)
	if err != nil {
		return nil, err
	}
	if ep.isHalted() {
		return nil, pkg.ErrStall
	}
	select {
	case data := <-ep.ch:
		return data, nil
	case <-ho.hal.closed:
		return nil, pkg.ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the wire down from the host side.
func (ho *Host) Close() {
	ho.hal.Close()
}

// Compile-time interface checks
var (
	_ hal.HAL          = (*HAL)(nil)
	_ hal.EndpointFile = (*endpointFile)(nil)
	_ hal.ControlFile  = (*controlFile)(nil)
)
