// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pifacecad drives the PiFace Control and Display: a 16x2 HD44780
// LCD and eight switches behind an MCP23S17 on the SPI bus.
//
// The driver keeps track of the cursor so that text wraps from one line to
// the other, and splits the screen into four 8 character segments for
// compact readouts:
//
//	+----------------+
//	|S0:0000S1:0000  |
//	|S2:0000S3:0000  |
//	+----------------+
//
// # Product Information
//
// http://www.piface.org.uk/products/piface_control_and_display/
package pifacecad

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/piface/bitbang"
	"github.com/GermanBionicSystems/piface/hd44780"
	"github.com/GermanBionicSystems/piface/mcp23xxx"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrInvalidChar is returned for a byte outside of printable ASCII that
	// is not a newline. Nothing is sent to the display.
	ErrInvalidChar = errors.New("pifacecad: character outside of printable range")
	// ErrNilText is returned by Write when given a nil slice.
	ErrNilText = errors.New("pifacecad: nil text")
	// ErrInvalidSegment is returned for a segment other than 0 to 3.
	ErrInvalidSegment = errors.New("pifacecad: invalid segment")
)

// Geometry of the display and of the controller address space.
const (
	// Cols is the number of visible columns.
	Cols = 16
	// Rows is the number of lines.
	Rows = 2

	maxCol    = 39
	ddramSize = 80
)

var rowOffsets = [Rows]int{0x00, 0x40}

// Segment origins, as (col, row).
var segments = [...][2]int{{0, 0}, {8, 0}, {0, 1}, {8, 1}}

// Switch is a bit of Buttons.
type Switch uint8

// Switches of port A. The five push buttons are numbered from the left, the
// navigation switch sits on the right.
const (
	S1 Switch = iota
	S2
	S3
	S4
	S5
	NavPress
	NavLeft
	NavRight
)

// Pressed reports whether s is held down in a Buttons reading. Switches pull
// their line low.
func Pressed(buttons byte, s Switch) bool {
	return buttons&(1<<s) == 0
}

// Opts is the configuration of the board.
type Opts struct {
	// Address is the hardware address of the MCP23S17, 0 on the PiFace.
	Address uint8
	// Frequency is the SPI clock, used by Open only; New takes an already
	// connected spi.Conn. 0 toggles the pins as fast as the host allows.
	Frequency physic.Frequency
	// CursorDelay is slept after every cursor move.
	CursorDelay time.Duration
	// LCD configures the protocol engine. Its Clock is also used for
	// CursorDelay.
	LCD hd44780.Opts
	// Logger receives a diagnostic for every rejected input. Defaults to no
	// logging.
	Logger *slog.Logger
}

// DefaultOpts is the configuration used when New gets nil.
var DefaultOpts = Opts{
	LCD: hd44780.DefaultOpts,
}

// Dev is a PiFace Control and Display.
//
// All methods are safe for concurrent use.
type Dev struct {
	exp      *mcp23xxx.Dev
	lcd      *hd44780.Dev
	port     spi.PortCloser
	switches gpio.Group
	opts     Opts
	log      *slog.Logger
	clock    clockwork.Clock

	mu  sync.Mutex
	col int
	row int
}

// New initializes the board on c and returns it with a blank screen, the
// cursor at (0, 0) and the backlight on.
//
// Port A is set as inputs with pull-ups for the switches, port B as outputs
// for the LCD.
func New(c spi.Conn, opts *Opts) (*Dev, error) {
	if c == nil {
		return nil, errors.New("pifacecad: nil spi.Conn")
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	clock := o.LCD.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
		o.LCD.Clock = clock
	}
	exp, err := mcp23xxx.NewSPI(c, mcp23xxx.MCP23S17, o.Address)
	if err != nil {
		return nil, fmt.Errorf("pifacecad: %w", err)
	}
	d := &Dev{exp: exp, opts: o, log: logger, clock: clock}
	if err := d.initialize(); err != nil {
		_ = exp.Close()
		return nil, err
	}
	return d, nil
}

// Open bit-bangs the SPI link on p and initializes the board on it. Close
// releases the pins.
func Open(p bitbang.Pins, opts *Opts) (*Dev, error) {
	port, err := bitbang.New(p)
	if err != nil {
		return nil, fmt.Errorf("pifacecad: %w", err)
	}
	var f physic.Frequency
	if opts != nil {
		f = opts.Frequency
	}
	c, err := port.Connect(f, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("pifacecad: %w", err)
	}
	d, err := New(c, opts)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	d.port = port
	return d, nil
}

// initialize configures the expander, then brings up the LCD.
func (d *Dev) initialize() error {
	eh := errorHandler{exp: d.exp}
	eh.configure(0, mcp23xxx.PortConfig{Input: 0xFF, PullUp: 0xFF})
	eh.configure(1, mcp23xxx.PortConfig{})
	if eh.err != nil {
		return fmt.Errorf("pifacecad: %w", eh.err)
	}
	lcd, err := hd44780.NewPiFaceCAD(d.exp, &d.opts.LCD)
	if err != nil {
		return fmt.Errorf("pifacecad: %w", err)
	}
	d.lcd = lcd
	d.switches = d.exp.Group(0, []int{0, 1, 2, 3, 4, 5, 6, 7})
	d.col, d.row = 0, 0
	return nil
}

// errorHandler stops a register sequence at the first failure.
type errorHandler struct {
	exp *mcp23xxx.Dev
	err error
}

func (eh *errorHandler) configure(port int, cfg mcp23xxx.PortConfig) {
	if eh.err != nil {
		return
	}
	eh.err = eh.exp.Configure(port, cfg)
}

// Buttons returns the levels of port A. A pressed switch reads as 0, see
// Pressed.
func (d *Dev) Buttons() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.exp.ReadRegister(mcp23xxx.GPIOA)
	if err != nil {
		return 0, fmt.Errorf("pifacecad: %w", err)
	}
	return v, nil
}

// Switches returns the eight switch lines as a group, bit n being Switch n.
func (d *Dev) Switches() gpio.Group {
	return d.switches
}

// LCD returns the underlying text display.
//
// Using it directly bypasses the cursor tracking of Dev.
func (d *Dev) LCD() *hd44780.Dev {
	return d.lcd
}

// PutChar writes c at the cursor.
//
// '\n' moves to the start of the other line. After the last visible column
// the cursor wraps to the start of the other line; there is no scrolling, so
// the second line wraps back to the first.
func (d *Dev) PutChar(c byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.putChar(c)
}

// PutString writes s at the cursor.
//
// Invalid bytes are skipped. The rest of s is still written and the invalid
// bytes are then reported together.
func (d *Dev) PutString(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.putBytes([]byte(s))
	return err
}

// Write implements io.Writer with the same rules as PutString.
func (d *Dev) Write(p []byte) (int, error) {
	if p == nil {
		d.log.Warn("nil text")
		return 0, ErrNilText
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.putBytes(p)
}

// Clear blanks the screen and moves the cursor to (0, 0).
//
// The cursor is reset even if the command fails.
func (d *Dev) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.col, d.row = 0, 0
	return d.lcd.Clear()
}

// SetCursor moves the cursor. col is clamped to [0, 39] and row to [0, 1];
// Cursor returns the clamped values.
func (d *Dev) SetCursor(col, row int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCursor(col, row)
}

// Cursor returns the 0-based column and row of the cursor.
func (d *Dev) Cursor() (col, row int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.col, d.row
}

// PrintAtSegment writes num as "S<seg>:<num>" at the origin of segment seg,
// the number zero padded to four digits.
//
// Numbers of more than four digits widen the field and run into the next
// segment.
func (d *Dev) PrintAtSegment(seg, num int) error {
	return d.PrintfAtSegment(seg, "S%d:%04d", seg, num)
}

// PrintfAtSegment formats according to format and writes the result at the
// origin of segment seg. Non-printable characters of the result are dropped.
func (d *Dev) PrintfAtSegment(seg int, format string, args ...any) error {
	if seg < 0 || seg >= len(segments) {
		d.log.Warn("invalid segment", slog.Int("seg", seg))
		return fmt.Errorf("%w: %d", ErrInvalidSegment, seg)
	}
	text := fmt.Sprintf(format, args...)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setCursor(segments[seg][0], segments[seg][1]); err != nil {
		return err
	}
	_, err := d.putBytes(printable([]byte(text)))
	return err
}

// Backlight turns the backlight on for any intensity above 0.
func (d *Dev) Backlight(intensity display.Intensity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lcd.Backlight(intensity)
}

// Halt clears the screen and turns the display and backlight off.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.col, d.row = 0, 0
	return d.lcd.Halt()
}

// Close unregisters the expander pins and, for a Dev returned by Open,
// releases the SPI pins. The display keeps its content.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.exp.Close()
	if d.port != nil {
		err = errors.Join(err, d.port.Close())
		d.port = nil
	}
	return err
}

func (d *Dev) String() string {
	return fmt.Sprintf("PiFaceCAD{%s}", d.exp)
}

func (d *Dev) putChar(c byte) error {
	if c == '\n' {
		return d.nextLine()
	}
	if !isPrintable(c) {
		d.log.Warn("invalid character", slog.Int("char", int(c)), slog.Int("col", d.col), slog.Int("row", d.row))
		return fmt.Errorf("%w: 0x%02x", ErrInvalidChar, c)
	}
	// Only reachable through SetCursor.
	if d.col >= Cols {
		if err := d.nextLine(); err != nil {
			return err
		}
	}
	if err := d.lcd.WriteData(c); err != nil {
		return fmt.Errorf("pifacecad: %w", err)
	}
	d.col++
	if d.col == Cols {
		return d.nextLine()
	}
	return nil
}

func (d *Dev) putBytes(p []byte) (int, error) {
	var invalid []error
	for i, c := range p {
		if err := d.putChar(c); err != nil {
			if !errors.Is(err, ErrInvalidChar) {
				return i, err
			}
			invalid = append(invalid, err)
		}
	}
	return len(p), errors.Join(invalid...)
}

// nextLine moves to column 0 of the other line.
func (d *Dev) nextLine() error {
	return d.setCursor(0, (d.row+1)%Rows)
}

func (d *Dev) setCursor(col, row int) error {
	col = min(max(col, 0), maxCol)
	row = min(max(row, 0), Rows-1)
	addr := (col + rowOffsets[row]) % ddramSize
	if err := d.lcd.SetAddress(byte(addr)); err != nil {
		return fmt.Errorf("pifacecad: %w", err)
	}
	d.col, d.row = col, row
	d.clock.Sleep(d.opts.CursorDelay)
	return nil
}

func isPrintable(c byte) bool {
	return c >= 32 && c <= 126
}

// printable returns p without the bytes PutChar would reject.
func printable(p []byte) []byte {
	out := p[:0]
	for _, c := range p {
		if c == '\n' || isPrintable(c) {
			out = append(out, c)
		}
	}
	return out
}

var _ conn.Resource = &Dev{}
var _ io.Writer = &Dev{}
var _ display.DisplayBacklight = &Dev{}
