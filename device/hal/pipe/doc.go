// Package pipe implements the gadget HAL contract over in-process channels.
//
// It plays the role a kernel functionfs wrapper plays in production: the
// device side hands out endpoint files and delivers lifecycle and SETUP
// events, while [Host] is the opposite end of the wire, a scriptable USB
// host used by tests and by the cmd/softccid demo.
//
// Transfers are delivered whole (one Submit or Write is one host-visible
// transfer); packetisation below that level is not modelled.
package pipe
