// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pifacesim

// MCP23S17 register addresses with IOCON.BANK=0.
const (
	regIODIRA   = 0x00
	regIODIRB   = 0x01
	regIPOLA    = 0x02
	regIPOLB    = 0x03
	regGPINTENA = 0x04
	regIOCON    = 0x0A
	regIOCONB   = 0x0B
	regGPPUA    = 0x0C
	regGPPUB    = 0x0D
	regINTFA    = 0x0E
	regINTFB    = 0x0F
	regINTCAPA  = 0x10
	regINTCAPB  = 0x11
	regGPIOA    = 0x12
	regGPIOB    = 0x13
	regOLATA    = 0x14
	regOLATB    = 0x15
	regCount    = 0x16
)

const ioconSEQOP = 0x20

// expander models the register file of an MCP23S17.
type expander struct {
	regs [regCount]uint8
}

func (e *expander) reset() {
	e.regs = [regCount]uint8{}
	e.regs[regIODIRA] = 0xFF
	e.regs[regIODIRB] = 0xFF
}

// next returns the register the address pointer moves to after an access.
func (e *expander) next(reg uint8) uint8 {
	if e.regs[regIOCON]&ioconSEQOP != 0 {
		return reg
	}
	return (reg + 1) % regCount
}

// write stores v in reg. It reports whether the levels on port B may have
// changed.
func (e *expander) write(reg, v uint8) bool {
	if reg >= regCount {
		return false
	}
	switch reg {
	case regINTFA, regINTFB, regINTCAPA, regINTCAPB:
		// Read-only.
		return false
	case regIOCON, regIOCONB:
		// Both addresses map to the same register.
		e.regs[regIOCON] = v
		e.regs[regIOCONB] = v
		return false
	case regGPIOA:
		e.regs[regOLATA] = v
		return false
	case regGPIOB:
		e.regs[regOLATB] = v
		return true
	}
	e.regs[reg] = v
	return reg == regOLATB || reg == regIODIRB || reg == regGPPUB
}

// read returns the value of reg as seen over SPI. Port A inputs read the
// switches: a pressed switch shorts the pin to ground, an open one reads the
// pull-up if enabled and low otherwise.
func (e *expander) read(reg, switches uint8, lcd *controller) uint8 {
	if reg >= regCount {
		return 0
	}
	switch reg {
	case regGPIOA:
		in := e.regs[regGPPUA] &^ switches
		v := (in & e.regs[regIODIRA]) | (e.regs[regOLATA] &^ e.regs[regIODIRA])
		return v ^ (e.regs[regIPOLA] & e.regs[regIODIRA])
	case regGPIOB:
		v := (e.regs[regGPPUB] & e.regs[regIODIRB]) | (e.regs[regOLATB] &^ e.regs[regIODIRB])
		v ^= e.regs[regIPOLB] & e.regs[regIODIRB]
		// The PiFace leaves DB4-DB7 configured as outputs during a read; the
		// LCD overdrives them.
		if nibble, ok := lcd.driving(); ok {
			v = v&0xF0 | nibble
		}
		return v
	}
	return e.regs[reg]
}

// portBLevels returns the levels the expander drives on port B. Input pins
// float high when their pull-up is enabled.
func (e *expander) portBLevels() uint8 {
	out := e.regs[regOLATB] &^ e.regs[regIODIRB]
	return out | (e.regs[regGPPUB] & e.regs[regIODIRB])
}
