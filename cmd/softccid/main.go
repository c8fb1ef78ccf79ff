// Command softccid runs a virtual CCID reader end to end over the
// in-process pipe transport: a host-side script enumerates the reader,
// watches the insertion notification, powers the card, and exchanges an
// APDU with a built-in memory card.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softccid/device/class/iccd"
	"github.com/ardnew/softccid/device/hal"
	"github.com/ardnew/softccid/device/hal/pipe"
	"github.com/ardnew/softccid/pkg"
)

// defaultATR is a minimal direct-convention T=1 ATR.
const defaultATR = "3b8180018080"

func main() {
	app := &cli.App{
		Name:  "softccid",
		Usage: "demonstrate the CCID gadget function over an in-process host",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "slots",
				Usage: "number of card slots to expose",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "minimum log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "json-logs",
				Usage: "emit logs as JSON",
			},
			&cli.StringFlag{
				Name:  "atr",
				Usage: "hex-encoded ATR of the demo card",
				Value: defaultATR,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "softccid:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	pkg.SetLogLevel(level)
	if c.Bool("json-logs") {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	atr, err := hex.DecodeString(c.String("atr"))
	if err != nil {
		return fmt.Errorf("atr: %w", err)
	}

	f, err := iccd.New(c.Int("slots"))
	if err != nil {
		return err
	}
	wire := pipe.New()
	if err := f.Attach(wire); err != nil {
		return err
	}
	fmt.Printf("descriptors: %x\n", f.Descriptors())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.Run(ctx)
	})
	g.Go(func() error {
		defer wire.Close()
		return hostSession(ctx, wire.Host(), f, &memoryCard{atr: atr})
	})
	return g.Wait()
}

// hostSession scripts the host side of the wire against the function.
func hostSession(ctx context.Context, host *pipe.Host, f *iccd.Function, card iccd.Card) error {
	if err := host.Bind(); err != nil {
		return err
	}
	if err := host.Enable(); err != nil {
		return err
	}

	// The enable-time notification; no slot has changed yet.
	note, err := host.In(ctx, iccd.InterruptInAddress)
	if err != nil {
		return err
	}
	fmt.Printf("interrupt: % x\n", note)

	clocks, err := host.ControlIn(
		hal.RequestTypeClass|hal.RequestRecipientInterface,
		iccd.RequestGetClockFrequencies, 0, 0, 64)
	if err != nil {
		return err
	}
	fmt.Printf("clock table: % x\n", clocks)

	// Poll the empty slot, then insert the card and watch the notifier.
	status, err := exchange(ctx, host, slotStatusRequest(0, 1))
	if err != nil {
		return err
	}
	fmt.Printf("slot status (empty): % x\n", status)

	if err := f.Insert(0, card); err != nil {
		return err
	}
	note, err = host.In(ctx, iccd.InterruptInAddress)
	if err != nil {
		return err
	}
	fmt.Printf("interrupt (insert): % x\n", note)

	atr, err := exchange(ctx, host, powerOnRequest(0, 2))
	if err != nil {
		return err
	}
	fmt.Printf("power on: % x\n", atr)

	apdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x00} // SELECT
	resp, err := exchange(ctx, host, xfrBlockRequest(0, 3, apdu))
	if err != nil {
		return err
	}
	fmt.Printf("apdu response: % x\n", resp)

	off, err := exchange(ctx, host, powerOffRequest(0, 4))
	if err != nil {
		return err
	}
	fmt.Printf("power off: % x\n", off)

	return host.Disable()
}

// exchange sends one bulk request and receives one bulk-IN transfer.
func exchange(ctx context.Context, host *pipe.Host, request []byte) ([]byte, error) {
	if err := host.Out(iccd.BulkOutAddress, request); err != nil {
		return nil, err
	}
	return host.In(ctx, iccd.BulkInAddress)
}

func slotStatusRequest(slot, seq uint8) []byte {
	return bulkRequest(iccd.MessageTypeGetSlotStatus, slot, seq, nil, [3]byte{})
}

func powerOnRequest(slot, seq uint8) []byte {
	return bulkRequest(iccd.MessageTypePowerOn, slot, seq, nil, [3]byte{})
}

func powerOffRequest(slot, seq uint8) []byte {
	return bulkRequest(iccd.MessageTypePowerOff, slot, seq, nil, [3]byte{})
}

func xfrBlockRequest(slot, seq uint8, apdu []byte) []byte {
	return bulkRequest(iccd.MessageTypeXfrBlock, slot, seq, apdu,
		[3]byte{0, byte(iccd.ChainBeginAndEnd), 0})
}

func bulkRequest(t iccd.MessageType, slot, seq uint8, body []byte, param [3]byte) []byte {
	h := iccd.BulkHeader{
		Type:   t,
		Length: uint32(len(body)),
		Slot:   slot,
		Seq:    seq,
		Param:  param,
	}
	buf := make([]byte, iccd.BulkHeaderSize+len(body))
	h.MarshalTo(buf)
	copy(buf[iccd.BulkHeaderSize:], body)
	return buf
}

// memoryCard is the built-in demo card: a fixed ATR and an APDU handler
// that acknowledges every command with the command echoed back.
type memoryCard struct {
	atr      []byte
	sessions int
}

func (m *memoryCard) ATR() ([]byte, error) {
	return m.atr, nil
}

func (m *memoryCard) RunAPDU(command []byte) ([]byte, error) {
	resp := make([]byte, 0, len(command)+2)
	resp = append(resp, command...)
	return append(resp, 0x90, 0x00), nil
}

func (m *memoryCard) ClearVolatile() {
	m.sessions++
}
