// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23xxx

import (
	"errors"
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Pin extends gpio.PinIO with the input polarity inversion of the family.
type Pin interface {
	gpio.PinIO
	// SetPolarityInverted makes the GPIO register bit read the opposite of the
	// logic level at the pin.
	SetPolarityInverted(p bool) error
	// IsPolarityInverted returns true if the input reads inverted.
	IsPolarityInverted() (bool, error)
}

type port struct {
	dev   *Dev
	index int
	name  string

	iodir registerCache // direction, 1 is input
	ipol  registerCache // input polarity
	gppu  registerCache // pull-up
	gpio  registerCache // level at the pins
	olat  registerCache // output latch
}

func (p *port) pins(count int) []Pin {
	result := make([]Pin, count)
	for i := range count {
		result[i] = &portpin{port: p, pinbit: uint8(i)}
	}
	return result
}

type portpin struct {
	port   *port
	pinbit uint8
}

func (p *portpin) String() string {
	return p.Name()
}

// Halt sets the pin to a high impedance input.
func (p *portpin) Halt() error {
	return p.In(gpio.Float, gpio.NoEdge)
}

func (p *portpin) Name() string {
	return p.port.name + "_" + strconv.Itoa(int(p.pinbit))
}

func (p *portpin) Number() int {
	return int(p.pinbit)
}

func (p *portpin) Function() string {
	return string(p.Func())
}

func (p *portpin) In(pull gpio.Pull, edge gpio.Edge) error {
	if edge != gpio.NoEdge {
		return errors.New("mcp23xxx: edge detection not supported")
	}
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	switch pull {
	case gpio.PullDown:
		return ErrPullDown
	case gpio.PullUp:
		if err := p.port.gppu.getAndSetBit(p.pinbit, true, true); err != nil {
			return err
		}
	case gpio.Float:
		if err := p.port.gppu.getAndSetBit(p.pinbit, false, true); err != nil {
			return err
		}
	}
	return p.port.iodir.getAndSetBit(p.pinbit, true, true)
}

func (p *portpin) Read() gpio.Level {
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	v, _ := p.port.gpio.getBit(p.pinbit, false)
	return gpio.Level(v)
}

func (p *portpin) WaitForEdge(timeout time.Duration) bool {
	return false
}

func (p *portpin) Pull() gpio.Pull {
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := p.port.gppu.getBit(p.pinbit, true)
	switch {
	case err != nil:
		return gpio.PullNoChange
	case v:
		return gpio.PullUp
	default:
		return gpio.Float
	}
}

func (p *portpin) DefaultPull() gpio.Pull {
	return gpio.Float
}

func (p *portpin) Out(l gpio.Level) error {
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := p.port.iodir.getAndSetBit(p.pinbit, false, true); err != nil {
		return err
	}
	return p.port.olat.getAndSetBit(p.pinbit, bool(l), true)
}

func (p *portpin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errors.New("mcp23xxx: PWM is not supported")
}

func (p *portpin) Func() pin.Func {
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := p.port.iodir.getBit(p.pinbit, true)
	switch {
	case err != nil:
		return pin.FuncNone
	case v:
		return gpio.IN
	default:
		return gpio.OUT
	}
}

func (p *portpin) SupportedFuncs() []pin.Func {
	return supportedFuncs[:]
}

func (p *portpin) SetFunc(f pin.Func) error {
	var v bool
	switch f {
	case gpio.IN:
		v = true
	case gpio.OUT:
		v = false
	default:
		return errors.New("mcp23xxx: function not supported: " + string(f))
	}
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.port.iodir.getAndSetBit(p.pinbit, v, true)
}

func (p *portpin) SetPolarityInverted(pol bool) error {
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.port.ipol.getAndSetBit(p.pinbit, pol, true)
}

func (p *portpin) IsPolarityInverted() (bool, error) {
	d := p.port.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.port.ipol.getBit(p.pinbit, true)
}

var supportedFuncs = [...]pin.Func{gpio.IN, gpio.OUT}

var _ Pin = &portpin{}
var _ pin.PinFunc = &portpin{}
