// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pifacesim

import "fmt"

// Port B wiring of the PiFace Control and Display.
const (
	pinData      = 0x0F
	pinEnable    = 0x10
	pinReadWrite = 0x20
	pinRegSelect = 0x40
	pinBacklight = 0x80
)

const (
	ddramSize   = 80
	lineLength  = 40
	visibleCols = 16
)

// controller models an HD44780 driven over a 4-bit bus.
//
// Power-on state is 8-bit interface, one line, display off. Instructions are
// latched on the falling edge of EN. While RW is high, each rising edge of EN
// presents the next nibble of the busy flag and address counter.
type controller struct {
	busyPolls int
	stuck     bool

	eightBit  bool
	twoLines  bool
	displayOn bool
	cursorOn  bool
	blinkOn   bool
	increment bool
	shift     bool
	backlight bool

	ddram [ddramSize]byte
	ac    uint8
	busy  int

	en, rw   bool
	high     byte
	haveHigh bool
	readLow  bool
	out      byte
	outValid bool

	faults []string
}

func (c *controller) reset(opts *Opts) {
	*c = controller{
		busyPolls: opts.BusyPolls,
		stuck:     opts.Stuck,
		eightBit:  true,
		increment: true,
	}
	if c.busyPolls <= 0 {
		c.busyPolls = 1
	}
	for i := range c.ddram {
		c.ddram[i] = ' '
	}
}

// driving returns the nibble the controller drives on DB4-DB7, if any.
func (c *controller) driving() (byte, bool) {
	if c.rw && c.en && c.outValid {
		return c.out, true
	}
	return 0, false
}

// update reacts to new levels on port B.
func (c *controller) update(levels uint8) {
	en := levels&pinEnable != 0
	rw := levels&pinReadWrite != 0
	rs := levels&pinRegSelect != 0
	c.backlight = levels&pinBacklight != 0
	rising := en && !c.en
	falling := !en && c.en
	c.en, c.rw = en, rw

	switch {
	case rw && rising:
		v := c.ac
		if c.isBusy() {
			v |= 0x80
		}
		if c.eightBit || !c.readLow {
			c.out = v >> 4
		} else {
			c.out = v & 0x0F
			if c.busy > 0 && !c.stuck {
				c.busy--
			}
		}
		c.outValid = true
	case rw && falling:
		if !c.eightBit {
			c.readLow = !c.readLow
		}
		c.outValid = false
	case !rw && falling:
		c.outValid = false
		c.readLow = false
		c.latch(rs, levels&pinData)
	case !rw:
		c.outValid = false
	}
}

func (c *controller) isBusy() bool {
	return c.stuck || c.busy > 0
}

func (c *controller) latch(rs bool, nibble byte) {
	if c.isBusy() {
		c.fault("lcd: write while busy (rs=%t nibble=0x%x)", rs, nibble)
	}
	if c.eightBit {
		// Only DB4-DB7 are wired; DB0-DB3 read as low.
		c.exec(rs, nibble<<4)
		return
	}
	if !c.haveHigh {
		c.high = nibble
		c.haveHigh = true
		return
	}
	c.haveHigh = false
	c.exec(rs, c.high<<4|nibble)
}

// exec runs one instruction or data write. The busy flag cannot be polled
// until the host has switched to the 4-bit interface, so instructions received
// over the 8-bit interface do not set it.
func (c *controller) exec(rs bool, b byte) {
	polls := c.busyPolls
	if c.eightBit {
		polls = 0
	}
	c.busy = polls
	if rs {
		c.ddram[c.index()] = b
		c.advance()
		return
	}
	switch {
	case b&0x80 != 0:
		c.setAddress(b & 0x7F)
	case b&0x40 != 0:
		// CGRAM address; custom characters are not modelled.
	case b&0x20 != 0:
		c.eightBit = b&0x10 != 0
		c.twoLines = b&0x08 != 0
		c.haveHigh = false
	case b&0x10 != 0:
		if b&0x08 == 0 {
			// Cursor move.
			if b&0x04 != 0 {
				c.step(true)
			} else {
				c.step(false)
			}
		}
	case b&0x08 != 0:
		c.displayOn = b&0x04 != 0
		c.cursorOn = b&0x02 != 0
		c.blinkOn = b&0x01 != 0
	case b&0x04 != 0:
		c.increment = b&0x02 != 0
		c.shift = b&0x01 != 0
	case b&0x02 != 0:
		c.ac = 0
		c.busy = 2 * polls
	case b&0x01 != 0:
		for i := range c.ddram {
			c.ddram[i] = ' '
		}
		c.ac = 0
		c.increment = true
		c.busy = 2 * polls
	}
}

func (c *controller) setAddress(a uint8) {
	if c.twoLines && (a >= lineLength && a < 0x40 || a >= 0x40+lineLength) {
		c.fault("lcd: invalid DDRAM address 0x%02x", a)
		a = 0
	}
	if !c.twoLines && a >= ddramSize {
		c.fault("lcd: invalid DDRAM address 0x%02x", a)
		a = 0
	}
	c.ac = a
}

func (c *controller) advance() {
	c.step(c.increment)
}

func (c *controller) step(inc bool) {
	if !c.twoLines {
		if inc {
			c.ac = (c.ac + 1) % ddramSize
		} else {
			c.ac = (c.ac + ddramSize - 1) % ddramSize
		}
		return
	}
	if inc {
		switch c.ac++; c.ac {
		case lineLength:
			c.ac = 0x40
		case 0x40 + lineLength:
			c.ac = 0
		}
		return
	}
	switch c.ac {
	case 0:
		c.ac = 0x40 + lineLength - 1
	case 0x40:
		c.ac = lineLength - 1
	default:
		c.ac--
	}
}

// index maps the address counter to a DDRAM cell.
func (c *controller) index() int {
	if c.twoLines && c.ac >= 0x40 {
		return lineLength + int(c.ac-0x40)
	}
	return int(c.ac)
}

func (c *controller) cursor() (col, row int) {
	i := c.index()
	return i % lineLength, i / lineLength
}

func (c *controller) lines() [2]string {
	return [2]string{
		string(c.ddram[:visibleCols]),
		string(c.ddram[lineLength : lineLength+visibleCols]),
	}
}

func (c *controller) fault(format string, args ...any) {
	c.faults = append(c.faults, fmt.Sprintf(format, args...))
}
