// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23xxx

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"
)

// The internal structure for a group of pins of one port.
type pinGroup struct {
	dev         *Dev
	port        *port
	pins        []*portpin
	defaultMask gpio.GPIOValue
}

// Group returns a gpio.Group made up of the specified pins of port, in that
// order. It returns nil if the port or a pin number is out of range.
func (d *Dev) Group(port int, pins []int) gpio.Group {
	if port < 0 || port >= len(d.ports) || len(pins) == 0 {
		return nil
	}
	grouppins := make([]*portpin, len(pins))
	for ix, number := range pins {
		if number < 0 || number >= len(d.Pins[port]) {
			return nil
		}
		pp, ok := d.Pins[port][number].(*portpin)
		if !ok {
			return nil
		}
		grouppins[ix] = pp
	}
	return &pinGroup{
		dev:         d,
		port:        d.ports[port],
		pins:        grouppins,
		defaultMask: gpio.GPIOValue(1)<<len(pins) - 1,
	}
}

// Pins returns the set of pin.Pin that make up that group.
func (pg *pinGroup) Pins() []pin.Pin {
	pins := make([]pin.Pin, len(pg.pins))
	for ix, p := range pg.pins {
		pins[ix] = p
	}
	return pins
}

// ByOffset returns the pin at offset within the group, or nil.
func (pg *pinGroup) ByOffset(offset int) pin.Pin {
	if offset < 0 || offset >= len(pg.pins) {
		return nil
	}
	return pg.pins[offset]
}

// ByName returns the pin with the given name, or nil.
func (pg *pinGroup) ByName(name string) pin.Pin {
	for _, p := range pg.pins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// ByNumber returns the pin with the given number on the port, or nil.
func (pg *pinGroup) ByNumber(number int) pin.Pin {
	for _, p := range pg.pins {
		if p.Number() == number {
			return p
		}
	}
	return nil
}

// portMask converts a mask relative to the group into a mask of the port.
func (pg *pinGroup) portMask(mask gpio.GPIOValue) uint8 {
	var m uint8
	for ix, p := range pg.pins {
		if mask&(1<<ix) != 0 {
			m |= 1 << p.pinbit
		}
	}
	return m
}

func (pg *pinGroup) mask(mask gpio.GPIOValue) gpio.GPIOValue {
	if mask == 0 {
		return pg.defaultMask
	}
	return mask & pg.defaultMask
}

// Out writes value to the pins of the group selected by mask. If mask is 0,
// all pins of the group are written. Pins not yet configured as outputs are
// switched to outputs.
func (pg *pinGroup) Out(value, mask gpio.GPIOValue) error {
	mask = pg.mask(mask)
	wrMask := pg.portMask(mask)
	wr := pg.portMask(value & mask)

	pg.dev.mu.Lock()
	defer pg.dev.mu.Unlock()
	dir, err := pg.port.iodir.readValue(true)
	if err != nil {
		return err
	}
	if dir&wrMask != 0 {
		if err := pg.port.iodir.writeValue(dir&^wrMask, false); err != nil {
			return err
		}
	}
	current, err := pg.port.olat.readValue(true)
	if err != nil {
		return err
	}
	return pg.port.olat.writeValue(current&^wrMask|wr, true)
}

// Read returns the levels of the pins of the group selected by mask. If mask
// is 0, all pins of the group are read. Pins not yet configured as inputs
// are switched to inputs.
func (pg *pinGroup) Read(mask gpio.GPIOValue) (gpio.GPIOValue, error) {
	mask = pg.mask(mask)
	rmask := pg.portMask(mask)

	pg.dev.mu.Lock()
	defer pg.dev.mu.Unlock()
	dir, err := pg.port.iodir.readValue(true)
	if err != nil {
		return 0, err
	}
	if dir&rmask != rmask {
		if err := pg.port.iodir.writeValue(dir|rmask, false); err != nil {
			return 0, err
		}
	}
	v, err := pg.port.gpio.readValue(false)
	if err != nil {
		return 0, err
	}
	var result gpio.GPIOValue
	for ix, p := range pg.pins {
		if v&(1<<p.pinbit) != 0 {
			result |= 1 << ix
		}
	}
	return result & mask, nil
}

// WaitForEdge is not supported: the INT output of the chip is not wired to
// the host on the boards this driver targets.
func (pg *pinGroup) WaitForEdge(timeout time.Duration) (number int, edge gpio.Edge, err error) {
	return -1, gpio.NoEdge, gpio.ErrGroupFeatureNotImplemented
}

// Halt implements conn.Resource. It has no effect.
func (pg *pinGroup) Halt() error {
	return nil
}

// String returns the port name and the pins of the group.
func (pg *pinGroup) String() string {
	nums := make([]string, len(pg.pins))
	for ix, p := range pg.pins {
		nums[ix] = fmt.Sprint(p.Number())
	}
	return fmt.Sprintf("%s[%s]", pg.port.name, strings.Join(nums, " "))
}

var _ gpio.Group = &pinGroup{}
