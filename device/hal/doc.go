// Package hal defines the contract between a gadget function driver and
// the glue that registers it with a USB device controller.
//
// The glue (a kernel functionfs wrapper in production, the in-process
// transport in [github.com/ardnew/softccid/device/hal/pipe] for tests)
// owns enumeration, SETUP routing for standard requests, and endpoint
// lifecycle. The function driver sees only:
//
//   - byte-oriented endpoint files ([EndpointFile], [ControlFile])
//   - lifecycle and class-SETUP callbacks ([Handler])
//
// A Handler's OnSetup returning an error instructs the glue to halt
// endpoint 0 in the direction named by the request type.
package hal
