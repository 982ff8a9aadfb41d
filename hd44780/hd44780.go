// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hd44780 controls the Hitachi LCD display chipset HD-44780 over a
// byte-wide port in 4-bit mode, as found behind I/O expanders.
//
// The four data lines DB4-DB7 and the EN, RW, RS and backlight lines all sit
// on the same 8 bit port. Because RW is wired, the driver paces itself by
// polling the busy flag instead of sleeping for worst case delays.
//
// Each busy flag read ends with an extra write that drops EN while RW is
// still high, one more than the usual four step read, so that the following
// write never changes RW while EN is high. The backlight bit is kept on
// through the read.
//
// # Datasheet
//
// https://www.sparkfun.com/datasheets/LCD/HD44780.pdf
package hd44780

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
)

const packageName = "hd44780"

// ErrBusyTimeout is returned when the controller keeps its busy flag set
// past Opts.BusyTimeout or Opts.MaxBusyPolls.
var ErrBusyTimeout = errors.New("hd44780: busy flag never cleared")

// Instructions.
const (
	cmdClear       byte = 0x01
	cmdHome        byte = 0x02
	cmdEntryMode   byte = 0x04
	cmdDisplay     byte = 0x08
	cmdShift       byte = 0x10
	cmdFunctionSet byte = 0x20
	cmdDDRAM       byte = 0x80

	entryIncrement byte = 0x02
	displayOn      byte = 0x04
	displayCursor  byte = 0x02
	displayBlink   byte = 0x01
	shiftRight     byte = 0x04
	functionTwo    byte = 0x08

	busyFlag byte = 0x80
)

// Bus is the 8 bit port the controller is wired to.
type Bus interface {
	// WritePort drives all eight lines of the port.
	WritePort(v byte) error
	// ReadPort returns the levels of the eight lines.
	ReadPort() (byte, error)
}

// Wiring describes which port bits are connected to which controller lines.
type Wiring struct {
	// DataShift is the bit position of DB4; DB4-DB7 must be contiguous.
	DataShift uint8
	// Masks of the control lines.
	Enable         byte
	ReadWrite      byte
	RegisterSelect byte
	// Backlight is 0 if the backlight is not switched by the port.
	Backlight byte
}

// PiFaceWiring is the port B wiring of the PiFace Control and Display.
var PiFaceWiring = Wiring{
	DataShift:      0,
	Enable:         0x10,
	ReadWrite:      0x20,
	RegisterSelect: 0x40,
	Backlight:      0x80,
}

// Opts is the configuration of the display.
type Opts struct {
	Rows int
	Cols int
	// InitDelay is the pause between the steps of the power-on sequence,
	// which run before the busy flag can be polled.
	InitDelay time.Duration
	// BusyTimeout bounds a single wait for the busy flag.
	BusyTimeout time.Duration
	// MaxBusyPolls bounds the number of busy flag reads of a single wait.
	MaxBusyPolls int
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultOpts is the configuration of a 16x2 module.
var DefaultOpts = Opts{
	Rows:         2,
	Cols:         16,
	InitDelay:    5 * time.Millisecond,
	BusyTimeout:  100 * time.Millisecond,
	MaxBusyPolls: 1000,
}

// Dev is an HD44780 driven over a Bus.
//
// Implements display.TextDisplay and display.DisplayBacklight.
type Dev struct {
	bus   Bus
	w     Wiring
	opts  Opts
	clock clockwork.Clock

	mu        sync.Mutex
	backlight bool
	on        bool
	cursor    bool
	blink     bool
}

// New initializes the controller on bus and returns it with the display on,
// the cursor visible, the screen cleared and the backlight on.
//
// Zero fields of opts take their value from DefaultOpts.
func New(bus Bus, w Wiring, opts *Opts) (*Dev, error) {
	if w.Enable == 0 || w.ReadWrite == 0 || w.RegisterSelect == 0 || w.DataShift > 4 {
		return nil, errors.New("hd44780: incomplete wiring")
	}
	o := DefaultOpts
	if opts != nil {
		if opts.Rows != 0 {
			o.Rows = opts.Rows
		}
		if opts.Cols != 0 {
			o.Cols = opts.Cols
		}
		if opts.InitDelay != 0 {
			o.InitDelay = opts.InitDelay
		}
		if opts.BusyTimeout != 0 {
			o.BusyTimeout = opts.BusyTimeout
		}
		if opts.MaxBusyPolls != 0 {
			o.MaxBusyPolls = opts.MaxBusyPolls
		}
		o.Clock = opts.Clock
	}
	if o.Rows < 1 || o.Rows > 4 || o.Cols < 1 || o.Cols > 40 {
		return nil, fmt.Errorf("hd44780: unsupported geometry %dx%d", o.Cols, o.Rows)
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	d := &Dev{bus: bus, w: w, opts: o, clock: o.Clock, backlight: true}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// init runs the power-on sequence for the 4-bit interface. The first three
// nibbles resynchronise the controller whatever interface mode it was left
// in; the busy flag is not available until the 4-bit interface is selected.
func (d *Dev) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock.Sleep(d.opts.InitDelay)
	d.clock.Sleep(d.opts.InitDelay)
	for _, n := range []byte{0x03, 0x03, 0x03, 0x02} {
		if err := d.pulse(d.nibble(false, n)); err != nil {
			return err
		}
		d.clock.Sleep(d.opts.InitDelay)
	}
	function := cmdFunctionSet
	if d.opts.Rows > 1 {
		function |= functionTwo
	}
	d.on, d.cursor, d.blink = true, true, false
	for _, cmd := range []byte{function, d.displayControl(), cmdClear, cmdEntryMode | entryIncrement} {
		if err := d.write(false, cmd); err != nil {
			return err
		}
		d.clock.Sleep(d.opts.InitDelay)
	}
	return nil
}

// WriteCommand sends an instruction byte.
func (d *Dev) WriteCommand(cmd byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(false, cmd)
}

// WriteData sends a data byte, written to DDRAM at the address counter.
func (d *Dev) WriteData(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(true, b)
}

// SetAddress moves the address counter to a DDRAM address.
func (d *Dev) SetAddress(addr byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(false, cmdDDRAM|addr&0x7F)
}

// ReadBusyAddress returns the busy flag in bit 7 and the address counter in
// bits 0-6.
func (d *Dev) ReadBusyAddress() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readBusyAddress()
}

// AutoScroll is not supported. Returns display.ErrNotImplemented.
func (d *Dev) AutoScroll(enabled bool) error {
	return fmt.Errorf("%s: %w", packageName, display.ErrNotImplemented)
}

// Clear clears the screen and moves the cursor to the first position.
func (d *Dev) Clear() error {
	return d.WriteCommand(cmdClear)
}

// Cols returns the number of columns the display supports.
func (d *Dev) Cols() int {
	return d.opts.Cols
}

// Cursor sets the cursor mode. Multiple modes are applied in order.
func (d *Dev) Cursor(modes ...display.CursorMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, mode := range modes {
		switch mode {
		case display.CursorOff:
			d.cursor, d.blink = false, false
		case display.CursorUnderline:
			d.cursor = true
		case display.CursorBlock:
			d.blink = true
		case display.CursorBlink:
			d.cursor, d.blink = true, true
		default:
			return fmt.Errorf("hd44780: unexpected cursor: %d", mode)
		}
	}
	return d.write(false, d.displayControl())
}

// Home moves the cursor to (MinRow(), MinCol()).
func (d *Dev) Home() error {
	return d.WriteCommand(cmdHome)
}

// MinCol returns the min column position.
func (d *Dev) MinCol() int {
	return 1
}

// MinRow returns the min row position.
func (d *Dev) MinRow() int {
	return 1
}

// Move moves the cursor forward or backward.
func (d *Dev) Move(dir display.CursorDirection) error {
	switch dir {
	case display.Backward:
		return d.WriteCommand(cmdShift)
	case display.Forward:
		return d.WriteCommand(cmdShift | shiftRight)
	default:
		return fmt.Errorf("%s: %w", packageName, display.ErrNotImplemented)
	}
}

// MoveTo moves the cursor to a 1-based position.
func (d *Dev) MoveTo(row, col int) error {
	if row < d.MinRow() || row > d.opts.Rows || col < d.MinCol() || col > d.opts.Cols {
		return fmt.Errorf("hd44780: MoveTo(%d,%d) value out of range", row, col)
	}
	return d.SetAddress(d.rowOffset(row-1) + byte(col-1))
}

// rowOffset returns the DDRAM address of the first column of a 0-based row.
// Rows 2 and 3 of four line modules continue rows 0 and 1.
func (d *Dev) rowOffset(row int) byte {
	offsets := [4]byte{0x00, 0x40, byte(d.opts.Cols), 0x40 + byte(d.opts.Cols)}
	return offsets[row]
}

// Rows returns the number of rows the display supports.
func (d *Dev) Rows() int {
	return d.opts.Rows
}

func (d *Dev) String() string {
	if s, ok := d.bus.(fmt.Stringer); ok {
		return fmt.Sprintf("HD44780{%s, %dx%d}", s, d.opts.Cols, d.opts.Rows)
	}
	return fmt.Sprintf("HD44780{%dx%d}", d.opts.Cols, d.opts.Rows)
}

// Display turns the display on or off. DDRAM is kept.
func (d *Dev) Display(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = on
	return d.write(false, d.displayControl())
}

// Write writes p as data bytes at the cursor. Bytes are sent as is, mapped
// through the character ROM of the module.
func (d *Dev) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range p {
		if err := d.write(true, b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// WriteString writes text at the cursor.
func (d *Dev) WriteString(text string) (int, error) {
	return d.Write([]byte(text))
}

// Halt clears the display, turns the backlight off and turns the display off.
func (d *Dev) Halt() error {
	return errors.Join(d.Clear(), d.Backlight(0), d.Display(false))
}

func (d *Dev) displayControl() byte {
	v := cmdDisplay
	if d.on {
		v |= displayOn
	}
	if d.cursor {
		v |= displayCursor
	}
	if d.blink {
		v |= displayBlink
	}
	return v
}

// nibble returns the port value latching the 4 bits n, backlight included.
func (d *Dev) nibble(rs bool, n byte) byte {
	v := (n & 0x0F) << d.w.DataShift
	if rs {
		v |= d.w.RegisterSelect
	}
	return v | d.lit()
}

// write sends one byte as two nibbles, waiting for the controller before
// each nibble and after the second one. Must be called with d.mu held.
func (d *Dev) write(rs bool, b byte) error {
	if err := d.busyWait(); err != nil {
		return err
	}
	if err := d.pulse(d.nibble(rs, b>>4)); err != nil {
		return err
	}
	if err := d.busyWait(); err != nil {
		return err
	}
	if err := d.pulse(d.nibble(rs, b)); err != nil {
		return err
	}
	return d.busyWait()
}

// pulse latches v on the falling edge of EN.
func (d *Dev) pulse(v byte) error {
	if err := d.bus.WritePort(v | d.w.Enable); err != nil {
		return wrap(err)
	}
	return wrap(d.bus.WritePort(v))
}

// readBusyAddress reads the busy flag and address counter as two nibbles,
// each presented while EN is high. EN is low again on return so that the
// next write does not drop RW while EN is high.
func (d *Dev) readBusyAddress() (byte, error) {
	rw := d.w.ReadWrite | d.lit()
	if err := d.bus.WritePort(rw); err != nil {
		return 0, wrap(err)
	}
	var v byte
	for range 2 {
		if err := d.bus.WritePort(rw | d.w.Enable); err != nil {
			return 0, wrap(err)
		}
		in, err := d.bus.ReadPort()
		if err != nil {
			return 0, wrap(err)
		}
		v = v<<4 | (in>>d.w.DataShift)&0x0F
		if err := d.bus.WritePort(rw); err != nil {
			return 0, wrap(err)
		}
	}
	return v, nil
}

// busyWait polls the busy flag until it clears.
func (d *Dev) busyWait() error {
	start := d.clock.Now()
	polls := 0
	for {
		v, err := d.readBusyAddress()
		if err != nil {
			return err
		}
		polls++
		if v&busyFlag == 0 {
			return nil
		}
		if polls >= d.opts.MaxBusyPolls || d.clock.Since(start) >= d.opts.BusyTimeout {
			return fmt.Errorf("%w after %d polls in %s", ErrBusyTimeout, polls, d.clock.Since(start))
		}
	}
}

func wrap(err error) error {
	if err == nil || strings.HasPrefix(err.Error(), packageName) {
		return err
	}
	return fmt.Errorf("%s: %w", packageName, err)
}

var _ display.TextDisplay = &Dev{}
var _ display.DisplayBacklight = &Dev{}
var _ conn.Resource = &Dev{}
