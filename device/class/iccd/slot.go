package iccd

import (
	"github.com/ardnew/softccid/pkg"
)

var logSlot = pkg.Log(pkg.ComponentSlot)

// Slot is one card receptacle of the reader: presence and power state,
// the APDU reassembly buffer, and the two latches of the abort
// rendezvous.
//
// Slots are owned by their Function; every method below is called with
// the function's lock held. Applications reach slots through
// (*Function).Insert and (*Function).Remove.
type Slot struct {
	index   uint8
	status  ICCStatus
	changed bool
	card    Card

	// APDU command fragments accumulated across chained XFR_BLOCKs.
	data [][]byte

	// Abort rendezvous latches: abortResponse when the bulk half arrived
	// first, abortSeq when the control half did. A half whose sequence
	// does not match the other latch arms its own latch without clearing
	// the other, so both can be armed at once.
	abortResponse *Response
	abortSeq      uint8
	abortSeqSet   bool

	// onEvent is raised after any presence change, decoupling the slot
	// from the notifier.
	onEvent func()
}

// newSlot creates the empty slot with the given index, raising onEvent
// on presence changes.
func newSlot(index uint8, onEvent func()) *Slot {
	return &Slot{
		index:   index,
		status:  ICCStatusNotPresent,
		onEvent: onEvent,
	}
}

// Status returns the slot's presence and power state.
func (s *Slot) Status() ICCStatus {
	return s.status
}

// insert binds card to the slot.
// Fails with pkg.ErrCardPresent if a card is already bound.
func (s *Slot) insert(card Card) error {
	if s.card != nil {
		return pkg.ErrCardPresent
	}
	s.card = card
	s.status = ICCStatusInactive
	s.clearAPDU()
	s.changed = true
	s.onEvent()
	return nil
}

// remove unbinds and returns the slot's card after dropping its volatile
// state. Fails with pkg.ErrCardNotPresent if the slot is empty.
func (s *Slot) remove() (Card, error) {
	card := s.card
	if card == nil {
		return nil, pkg.ErrCardNotPresent
	}
	card.ClearVolatile()
	s.card = nil
	s.status = ICCStatusNotPresent
	s.clearAPDU()
	s.changed = true
	s.onEvent()
	return card, nil
}

// powerOn activates the slot and returns the card's ATR.
// Only called with a card present.
func (s *Slot) powerOn() ([]byte, error) {
	if s.status == ICCStatusInactive {
		s.status = ICCStatusActive
	}
	atr, err := s.card.ATR()
	if err != nil {
		return nil, err
	}
	logSlot.Debug("powered on", "slot", s.index, pkg.Hex("atr", atr))
	return atr, nil
}

// powerOff deactivates the slot, dropping the card's volatile state if it
// was active. A no-op on an inactive or empty slot beyond clearing any
// partial APDU.
func (s *Slot) powerOff() {
	if s.status == ICCStatusActive {
		s.status = ICCStatusInactive
		s.card.ClearVolatile()
	}
	s.clearAPDU()
}

// clearAPDU drops any previous, possibly incomplete, APDU transfer.
func (s *Slot) clearAPDU() {
	s.data = nil
}

// storeAPDU appends one chunk of a command APDU.
func (s *Slot) storeAPDU(chunk []byte) {
	s.data = append(s.data, chunk)
}

// runAPDU executes the accumulated command against the card and returns
// its response. The reassembly buffer is cleared regardless of outcome.
func (s *Slot) runAPDU() ([]byte, error) {
	total := 0
	for _, chunk := range s.data {
		total += len(chunk)
	}
	command := make([]byte, 0, total)
	for _, chunk := range s.data {
		command = append(command, chunk...)
	}
	s.clearAPDU()
	return s.card.RunAPDU(command)
}

// changeNotification returns the slot's presence and whether it changed
// since the previous call, clearing the changed flag.
func (s *Slot) changeNotification() SlotState {
	changed := s.changed
	s.changed = false
	return SlotState{
		Present: s.status != ICCStatusNotPresent,
		Changed: changed,
	}
}

// isAborting reports whether an abort rendezvous is in progress: one half
// has been observed and the other is still outstanding.
func (s *Slot) isAborting() bool {
	return s.abortSeqSet || s.abortResponse != nil
}

// abortFromBulk records the bulk half of an abort.
//
// If the control half is already latched for this sequence number, the
// latch is cleared and response is returned for immediate transmission.
// Otherwise response is held until the control half arrives and pending
// is true: nothing goes out on bulk-IN now.
func (s *Slot) abortFromBulk(response *Response) (resp *Response, pending bool) {
	if s.abortSeqSet && s.abortSeq == response.Seq {
		s.abortSeqSet = false
		return response, false
	}
	s.abortResponse = response
	return nil, true
}

// abortFromControl records the control half of an abort.
//
// If the bulk half is already latched for sequence, the latch is cleared
// and the held response is returned for transmission on bulk-IN.
// Otherwise the sequence number is latched and nil is returned.
func (s *Slot) abortFromControl(sequence uint8) *Response {
	if r := s.abortResponse; r != nil && r.Seq == sequence {
		s.abortResponse = nil
		return r
	}
	s.abortSeq = sequence
	s.abortSeqSet = true
	return nil
}
