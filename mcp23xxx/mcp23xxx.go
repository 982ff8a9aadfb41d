// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23xxx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
)

const packageName = "mcp23xxx"

// Variant is the type denoting a specific variant of the family.
type Variant string

const (
	MCP23S08 Variant = "MCP23S08" // MCP23S08 8-bit SPI extender.
	MCP23S17 Variant = "MCP23S17" // MCP23S17 16-bit SPI extender.
)

// MCP23S17 register addresses with IOCON.BANK=0.
const (
	IODIRA   uint8 = 0x00
	IODIRB   uint8 = 0x01
	IPOLA    uint8 = 0x02
	IPOLB    uint8 = 0x03
	GPINTENA uint8 = 0x04
	GPINTENB uint8 = 0x05
	DEFVALA  uint8 = 0x06
	DEFVALB  uint8 = 0x07
	INTCONA  uint8 = 0x08
	INTCONB  uint8 = 0x09
	IOCON    uint8 = 0x0A
	GPPUA    uint8 = 0x0C
	GPPUB    uint8 = 0x0D
	INTFA    uint8 = 0x0E
	INTFB    uint8 = 0x0F
	INTCAPA  uint8 = 0x10
	INTCAPB  uint8 = 0x11
	GPIOA    uint8 = 0x12
	GPIOB    uint8 = 0x13
	OLATA    uint8 = 0x14
	OLATB    uint8 = 0x15
)

const (
	opWrite = 0x40
	opRead  = 0x41
)

var (
	// ErrUnsupportedVariant is returned by NewSPI for an unknown variant.
	ErrUnsupportedVariant = errors.New("mcp23xxx: unsupported variant")
	// ErrInvalidAddress is returned by NewSPI when the hardware address is out
	// of range for the variant.
	ErrInvalidAddress = errors.New("mcp23xxx: invalid hardware address")
	// ErrInvalidPort is returned when a port index is out of range.
	ErrInvalidPort = errors.New("mcp23xxx: invalid port")
	// ErrPullDown is returned by In; the family only has pull-ups.
	ErrPullDown = errors.New("mcp23xxx: PullDown is not supported")
)

type variant struct {
	ports   int
	maxAddr uint8
	// regs maps the per port registers, indexed by port.
	regs []portRegisters
}

type portRegisters struct {
	iodir, ipol, gppu, gpio, olat uint8
}

var variants = map[Variant]variant{
	MCP23S08: {
		ports:   1,
		maxAddr: 3,
		regs:    []portRegisters{{iodir: 0x00, ipol: 0x01, gppu: 0x06, gpio: 0x09, olat: 0x0A}},
	},
	MCP23S17: {
		ports:   2,
		maxAddr: 7,
		regs: []portRegisters{
			{iodir: IODIRA, ipol: IPOLA, gppu: GPPUA, gpio: GPIOA, olat: OLATA},
			{iodir: IODIRB, ipol: IPOLB, gppu: GPPUB, gpio: GPIOB, olat: OLATB},
		},
	},
}

// PortConfig is the configuration of a whole port. Bits are pins.
type PortConfig struct {
	// Input has a bit set for each pin used as an input.
	Input uint8
	// PullUp enables the 100kΩ pull-up of input pins.
	PullUp uint8
}

// Dev is an MCP23S08 or MCP23S17 on an SPI connection.
type Dev struct {
	// Pins is structured as [port][pin].
	Pins [][]Pin

	c       spi.Conn
	variant Variant
	name    string
	wOp     byte
	rOp     byte

	// mu serializes SPI transactions and guards the register caches.
	mu    sync.Mutex
	ports []*port
	// registered lists the pin names this device owns in gpioreg.
	registered []string
}

// NewSPI returns a device on c. addr is the hardware address set by the A0-A2
// pins; it is only decoded by the chip when IOCON.HAEN is set, leave it to 0
// otherwise.
//
// c must be configured for mode 0 with 8 bit words. The MCP23S17 accepts up
// to 10MHz.
func NewSPI(c spi.Conn, v Variant, addr uint8) (*Dev, error) {
	vr, ok := variants[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVariant, string(v))
	}
	if addr > vr.maxAddr {
		return nil, fmt.Errorf("%w: %d for %s", ErrInvalidAddress, addr, v)
	}
	d := &Dev{
		c:       c,
		variant: v,
		name:    string(v) + "_" + strconv.Itoa(int(addr)),
		wOp:     opWrite | addr<<1,
		rOp:     opRead | addr<<1,
	}
	d.Pins = make([][]Pin, vr.ports)
	for i, r := range vr.regs {
		p := &port{
			dev:   d,
			index: i,
			name:  d.name + "_P" + string(rune('A'+i)),
			iodir: newRegister(d, r.iodir),
			ipol:  newRegister(d, r.ipol),
			gppu:  newRegister(d, r.gppu),
			gpio:  newRegister(d, r.gpio),
			olat:  newRegister(d, r.olat),
		}
		d.ports = append(d.ports, p)
		d.Pins[i] = p.pins(8)
		for _, pp := range d.Pins[i] {
			// Registration fails when another device on a different bus uses
			// the same address; that device keeps the names.
			if gpioreg.Register(pp) == nil {
				d.registered = append(d.registered, pp.Name())
			}
		}
	}
	return d, nil
}

func (d *Dev) String() string {
	return d.name
}

// Variant returns the chip variant.
func (d *Dev) Variant() Variant {
	return d.variant
}

// ReadRegister reads one register in its own chip select window. The value
// is never cached.
func (d *Dev) ReadRegister(reg uint8) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(reg)
}

// WriteRegister writes one register in its own chip select window.
func (d *Dev) WriteRegister(reg, value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidate(reg)
	return d.writeRegister(reg, value)
}

// Configure sets the direction then the pull-ups of a whole port.
func (d *Dev) Configure(port int, cfg PortConfig) error {
	if port < 0 || port >= len(d.ports) {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.ports[port]
	if err := p.iodir.writeValue(cfg.Input, false); err != nil {
		return err
	}
	return p.gppu.writeValue(cfg.PullUp, false)
}

// Halt implements conn.Resource. It sets every pin to input, which releases
// whatever the board drives from the expander. Board drivers that must keep
// lines driven should halt through their own device instead.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.ports {
		if err := p.iodir.writeValue(0xFF, true); err != nil {
			return err
		}
	}
	return nil
}

// Close removes the pin registrations made by NewSPI. Names registered by
// another device are left alone.
func (d *Dev) Close() error {
	d.mu.Lock()
	names := d.registered
	d.registered = nil
	d.mu.Unlock()
	var errs []error
	for _, name := range names {
		if err := gpioreg.Unregister(name); err != nil {
			errs = append(errs, err)
		}
	}
	return wrap(errors.Join(errs...))
}

// readRegister must be called with d.mu held.
func (d *Dev) readRegister(reg uint8) (uint8, error) {
	r := make([]byte, 3)
	if err := d.c.Tx([]byte{d.rOp, reg, 0x00}, r); err != nil {
		return 0, wrap(err)
	}
	return r[2], nil
}

// writeRegister must be called with d.mu held.
func (d *Dev) writeRegister(reg, value uint8) error {
	return wrap(d.c.Tx([]byte{d.wOp, reg, value}, nil))
}

// invalidate drops the cache of reg, written behind the pin view's back.
func (d *Dev) invalidate(reg uint8) {
	for _, p := range d.ports {
		for _, r := range []*registerCache{&p.iodir, &p.ipol, &p.gppu, &p.gpio, &p.olat} {
			if r.address == reg {
				r.got = false
			}
		}
	}
}

func wrap(err error) error {
	if err == nil || strings.HasPrefix(err.Error(), packageName) {
		return err
	}
	return fmt.Errorf("%s: %w", packageName, err)
}
