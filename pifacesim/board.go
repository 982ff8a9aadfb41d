// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pifacesim is a behavioural model of the PiFace Control and Display
// board: an MCP23S17 SPI I/O expander whose port A reads eight switches and
// whose port B drives an HD44780 character LCD in 4-bit mode.
//
// The board is reached through four fake GPIO pins (CS, CLK, MOSI, MISO) so
// the complete driver stack, down to the bit-banged SPI transport, can run
// without hardware. The model keeps a log of every expander register access
// and records protocol faults such as writing to the LCD while it is busy.
package pifacesim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Op is the direction of a register access.
type Op bool

const (
	Write Op = false
	Read  Op = true
)

func (o Op) String() string {
	if o == Read {
		return "R"
	}
	return "W"
}

// Access is one register byte read or written over SPI.
type Access struct {
	Op    Op
	Reg   uint8
	Value uint8
}

func (a Access) String() string {
	return fmt.Sprintf("%s(0x%02x)=0x%02x", a.Op, a.Reg, a.Value)
}

// Opts configures the model.
type Opts struct {
	// BusyPolls is the number of busy flag reads the LCD stays busy after an
	// instruction. Clear and home take twice as long. 0 means 1.
	BusyPolls int
	// Stuck keeps the busy flag set forever, like a disconnected or faulty
	// controller.
	Stuck bool
}

// Board is a simulated PiFace Control and Display.
type Board struct {
	// The four pins of the SPI link, as seen from the host.
	CS   *Pin
	CLK  *Pin
	MOSI *Pin
	MISO *Pin

	mu  sync.Mutex
	exp expander
	lcd controller

	// SPI slave state.
	selected  bool
	clk       gpio.Level
	mosi      gpio.Level
	shiftIn   byte
	bitCount  int
	byteIndex int
	shiftOut  byte
	outPos    int
	opcode    byte
	reg       uint8
	log       []Access
	faults    []string
	switches  byte
}

// New returns a powered-on board: expander registers at reset values and the
// LCD in 8-bit interface mode with a blank screen.
func New(opts *Opts) *Board {
	if opts == nil {
		opts = &Opts{}
	}
	b := &Board{}
	b.CS = &Pin{board: b, name: "PIFACE_CS", number: 0, output: true, level: gpio.High}
	b.CLK = &Pin{board: b, name: "PIFACE_CLK", number: 1, output: true}
	b.MOSI = &Pin{board: b, name: "PIFACE_MOSI", number: 2, output: true}
	b.MISO = &Pin{board: b, name: "PIFACE_MISO", number: 3}
	b.exp.reset()
	b.lcd.reset(opts)
	return b
}

func (b *Board) String() string {
	return "PiFaceCAD(sim)"
}

// Press holds down the switches set in mask. Bit n is switch n of port A.
func (b *Board) Press(mask byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.switches |= mask
}

// Release lets go of the switches set in mask.
func (b *Board) Release(mask byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.switches &^= mask
}

// Log returns a copy of the register accesses seen so far.
func (b *Board) Log() []Access {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Access(nil), b.log...)
}

// ResetLog forgets the register accesses seen so far.
func (b *Board) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Faults returns the protocol violations detected by the model.
func (b *Board) Faults() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.faults...)
	return append(out, b.lcd.faults...)
}

// Register returns the current value of an expander register without going
// through SPI.
func (b *Board) Register(reg uint8) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(reg) >= len(b.exp.regs) {
		return 0
	}
	return b.exp.regs[reg]
}

// Lines returns the visible characters of both LCD lines.
func (b *Board) Lines() [2]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lcd.lines()
}

// Cursor returns the column and row of the LCD address counter.
func (b *Board) Cursor() (col, row int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lcd.cursor()
}

// Address returns the raw DDRAM address counter.
func (b *Board) Address() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lcd.ac
}

// State returns the LCD display control and interface flags.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		FourBit:   !b.lcd.eightBit,
		TwoLines:  b.lcd.twoLines,
		DisplayOn: b.lcd.displayOn,
		CursorOn:  b.lcd.cursorOn,
		BlinkOn:   b.lcd.blinkOn,
		Increment: b.lcd.increment,
		Backlight: b.lcd.backlight,
	}
}

// State is a snapshot of the LCD controller flags.
type State struct {
	FourBit   bool
	TwoLines  bool
	DisplayOn bool
	CursorOn  bool
	BlinkOn   bool
	Increment bool
	Backlight bool
}

func (b *Board) setCS(l gpio.Level) {
	if l == gpio.Low && !b.selected {
		b.selected = true
		b.bitCount = 0
		b.byteIndex = 0
		b.shiftIn = 0
		b.shiftOut = 0
		b.outPos = 0
		return
	}
	if l == gpio.High && b.selected {
		if b.bitCount != 0 {
			b.faults = append(b.faults, fmt.Sprintf("spi: chip select released after %d stray bits", b.bitCount))
		}
		b.selected = false
	}
}

func (b *Board) setCLK(l gpio.Level) {
	prev := b.clk
	b.clk = l
	if !b.selected || prev == l {
		return
	}
	if l == gpio.High {
		b.shiftIn <<= 1
		if b.mosi {
			b.shiftIn |= 1
		}
		b.bitCount++
		if b.bitCount == 8 {
			b.byteDone(b.shiftIn)
			b.bitCount = 0
			b.shiftIn = 0
		}
		return
	}
	b.outPos++
}

func (b *Board) readMISO() gpio.Level {
	if !b.selected || b.outPos < 0 || b.outPos > 7 {
		return gpio.Low
	}
	return gpio.Level(b.shiftOut&(0x80>>uint(b.outPos)) != 0)
}

// byteDone runs the MCP23S17 SPI framing: opcode, register address, then data
// bytes with the address pointer advancing after each one.
func (b *Board) byteDone(v byte) {
	defer func() { b.byteIndex++ }()
	switch b.byteIndex {
	case 0:
		b.opcode = v
		if v&0xf0 != 0x40 {
			b.faults = append(b.faults, fmt.Sprintf("spi: unexpected opcode 0x%02x", v))
		}
		return
	case 1:
		b.reg = v
	default:
		if b.opcode&0xf0 != 0x40 {
			return
		}
		if b.opcode&1 == 1 {
			b.log = append(b.log, Access{Op: Read, Reg: b.reg, Value: b.shiftOut})
		} else {
			b.log = append(b.log, Access{Op: Write, Reg: b.reg, Value: v})
			if b.exp.write(b.reg, v) {
				b.lcd.update(b.exp.portBLevels())
			}
		}
		b.reg = b.exp.next(b.reg)
	}
	if b.opcode&1 == 1 {
		b.shiftOut = b.exp.read(b.reg, b.switches, &b.lcd)
		b.outPos = -1
	}
}

// Pin is one of the four host-side SPI pins of the board. It implements
// gpio.PinIO.
type Pin struct {
	board  *Board
	name   string
	number int
	output bool
	level  gpio.Level
	pull   gpio.Pull
}

var errDirection = errors.New("pifacesim: wrong pin direction")

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.name
}

// Halt implements conn.Resource.
func (p *Pin) Halt() error {
	return nil
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.name
}

// Number implements pin.Pin.
func (p *Pin) Number() int {
	return p.number
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	if p.output {
		return gpio.OUT
	}
	return gpio.IN
}

// SupportedFuncs implements pin.PinFunc.
func (p *Pin) SupportedFuncs() []pin.Func {
	return []pin.Func{p.Func()}
}

// SetFunc implements pin.PinFunc.
func (p *Pin) SetFunc(f pin.Func) error {
	if f != p.Func() {
		return errDirection
	}
	return nil
}

// In implements gpio.PinIn. Only MISO is an input.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if p.output {
		return fmt.Errorf("%w: %s is driven by the host", errDirection, p.name)
	}
	if edge != gpio.NoEdge {
		return errors.New("pifacesim: edge detection not supported")
	}
	if pull != gpio.PullNoChange {
		p.board.mu.Lock()
		p.pull = pull
		p.board.mu.Unlock()
	}
	return nil
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	p.board.mu.Lock()
	defer p.board.mu.Unlock()
	if p.output {
		return p.level
	}
	return p.board.readMISO()
}

// WaitForEdge implements gpio.PinIn.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	return false
}

// Pull implements gpio.PinIn.
func (p *Pin) Pull() gpio.Pull {
	return p.pull
}

// DefaultPull implements gpio.PinIn.
func (p *Pin) DefaultPull() gpio.Pull {
	return gpio.Float
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	if !p.output {
		return fmt.Errorf("%w: %s is driven by the board", errDirection, p.name)
	}
	b := p.board
	b.mu.Lock()
	defer b.mu.Unlock()
	p.level = l
	switch p {
	case b.CS:
		b.setCS(l)
	case b.CLK:
		b.setCLK(l)
	case b.MOSI:
		b.mosi = l
	}
	return nil
}

// PWM implements gpio.PinOut.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errors.New("pifacesim: PWM not supported")
}

var _ gpio.PinIO = &Pin{}
var _ pin.PinFunc = &Pin{}
