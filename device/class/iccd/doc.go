// Package iccd implements the device side of the USB CCID smart-card
// reader class, restricted to the ICCD subset: bulk APDU exchange over
// T=1, slot-change notification on the interrupt endpoint, and the
// two-endpoint abort protocol.
//
// The host sees a standards-conformant single-configuration CCID reader;
// the device application plugs a [Card] into a slot and the function
// services the host's command pipe against it:
//
//	f, _ := iccd.New(1)
//	f.Attach(gadgetHAL)
//	f.Insert(0, card)
//	f.Run(ctx)
//
// Out of scope by design: T=0, secure PIN operations, escape requests,
// and clock/rate negotiation (the descriptor advertises one fixed clock
// and data rate).
package iccd
