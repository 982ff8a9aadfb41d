// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbang implements an SPI port in software on top of four GPIO
// pins. It is meant for boards where the peripheral hangs off pins that are
// not routed to a hardware SPI controller, or where the controller is already
// in use.
//
// Only SPI mode 0 with 8 bit words is supported. Data is shifted out most
// significant bit first. For each bit, MOSI is driven, MISO is sampled, and
// then the clock is strobed high then low.
//
// The port implements spi.PortCloser and the connection implements spi.Conn,
// so any periph.io SPI device driver can be used over it.
package bitbang

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const packageName = "bitbang"

var (
	// ErrMissingPin is returned by New when one of the four pins is nil.
	ErrMissingPin = errors.New("bitbang: missing pin")
	// ErrUnsupportedMode is returned by Connect for anything but mode 0 with
	// 8 bits per word.
	ErrUnsupportedMode = errors.New("bitbang: unsupported mode")
	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("bitbang: Connect cannot be called twice")
	// ErrBufferMismatch is returned by Tx when the read buffer is neither
	// empty nor the same length as the write buffer.
	ErrBufferMismatch = errors.New("bitbang: read and write buffers must have the same length")
	// ErrClosed is returned when the port is used after Close.
	ErrClosed = errors.New("bitbang: port closed")
)

// Pins is the pin assignment of a software SPI port.
//
// CS is active low.
type Pins struct {
	CS   gpio.PinOut
	CLK  gpio.PinOut
	MOSI gpio.PinOut
	MISO gpio.PinIn
}

func (p *Pins) String() string {
	return fmt.Sprintf("CS=%s CLK=%s MOSI=%s MISO=%s", pinName(p.CS), pinName(p.CLK), pinName(p.MOSI), pinName(p.MISO))
}

func pinName(p interface{ Name() string }) string {
	if p == nil {
		return "<nil>"
	}
	return p.Name()
}

func wrap(err error) error {
	if err == nil || strings.HasPrefix(err.Error(), packageName) {
		return err
	}
	return fmt.Errorf("%s: %w", packageName, err)
}

// Port is a software SPI port. It implements spi.PortCloser.
type Port struct {
	pins Pins

	mu        sync.Mutex
	maxHz     physic.Frequency
	connected bool
	closed    bool
	c         *Conn
}

// New configures the pins for an idle bus, CS deasserted and CLK low, and
// returns the port.
func New(p Pins) (*Port, error) {
	if p.CS == nil || p.CLK == nil || p.MOSI == nil || p.MISO == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingPin, p.String())
	}
	if err := p.MISO.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, wrap(err)
	}
	if err := p.CS.Out(gpio.High); err != nil {
		return nil, wrap(err)
	}
	if err := p.CLK.Out(gpio.Low); err != nil {
		return nil, wrap(err)
	}
	return &Port{pins: p}, nil
}

func (p *Port) String() string {
	return "bitbang(" + p.pins.String() + ")"
}

// Connect implements spi.Port.
//
// f is the maximum clock rate of the device. Use 0 to toggle the pins as fast
// as the host allows.
func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if mode != spi.Mode0 || bits != 8 {
		return nil, fmt.Errorf("%w: %s, %d bits", ErrUnsupportedMode, mode, bits)
	}
	if f < 0 {
		return nil, fmt.Errorf("bitbang: invalid frequency %s", f)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.connected {
		return nil, ErrAlreadyConnected
	}
	p.connected = true
	p.c = &Conn{port: p, pins: p.pins, devHz: f}
	p.c.setSpeed(p.speed(f))
	return p.c, nil
}

// LimitSpeed implements spi.PortCloser.
func (p *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("bitbang: invalid speed %s", f)
	}
	p.mu.Lock()
	p.maxHz = f
	c := p.c
	var hz physic.Frequency
	if c != nil {
		hz = p.speed(c.devHz)
	}
	p.mu.Unlock()
	if c != nil {
		c.setSpeed(hz)
	}
	return nil
}

// speed returns the lowest of f and the port limit. Must be called with
// p.mu held.
func (p *Port) speed(f physic.Frequency) physic.Frequency {
	if p.maxHz != 0 && (f == 0 || p.maxHz < f) {
		return p.maxHz
	}
	return f
}

// Close implements spi.PortCloser. CS is left deasserted.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return wrap(p.pins.CS.Out(gpio.High))
}

// CLK implements spi.Pins.
func (p *Port) CLK() gpio.PinOut {
	return p.pins.CLK
}

// MOSI implements spi.Pins.
func (p *Port) MOSI() gpio.PinOut {
	return p.pins.MOSI
}

// MISO implements spi.Pins.
func (p *Port) MISO() gpio.PinIn {
	return p.pins.MISO
}

// CS implements spi.Pins.
func (p *Port) CS() gpio.PinOut {
	return p.pins.CS
}

// Conn is a connection on a software SPI port. It implements spi.Conn.
//
// Tx and TxPackets hold a lock for the whole chip select window. Begin,
// Transfer and End are the unlocked primitives they are built on; callers
// using them directly must serialize access themselves.
type Conn struct {
	port *Port
	pins Pins

	mu         sync.Mutex
	devHz      physic.Frequency
	halfPeriod time.Duration
}

func (c *Conn) setSpeed(f physic.Frequency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f > 0 {
		c.halfPeriod = f.Period() / 2
	} else {
		c.halfPeriod = 0
	}
}

func (c *Conn) String() string {
	return c.port.String()
}

// Duplex implements conn.Conn.
func (c *Conn) Duplex() conn.Duplex {
	return conn.Full
}

// Begin asserts chip select.
func (c *Conn) Begin() error {
	return wrap(c.pins.CS.Out(gpio.Low))
}

// End deasserts chip select.
func (c *Conn) End() error {
	return wrap(c.pins.CS.Out(gpio.High))
}

// Transfer shifts out one byte and returns the byte shifted in during the same
// eight clock cycles. Chip select must already be asserted.
func (c *Conn) Transfer(out byte) (byte, error) {
	var in byte
	for i := 0; i < 8; i++ {
		in <<= 1
		if err := c.pins.MOSI.Out(gpio.Level(out&0x80 != 0)); err != nil {
			return 0, wrap(err)
		}
		if c.pins.MISO.Read() {
			in |= 1
		}
		if err := c.pins.CLK.Out(gpio.High); err != nil {
			return 0, wrap(err)
		}
		c.delay()
		if err := c.pins.CLK.Out(gpio.Low); err != nil {
			return 0, wrap(err)
		}
		c.delay()
		out <<= 1
	}
	return in, nil
}

// delay busy-waits for half a clock period. time.Sleep is far too coarse for
// the microsecond range used by SPI devices.
func (c *Conn) delay() {
	if c.halfPeriod <= 0 {
		return
	}
	for start := time.Now(); time.Since(start) < c.halfPeriod; {
	}
}

// Tx implements conn.Conn.
//
// w and r are exchanged in a single chip select window. r may be nil, in
// which case the bytes shifted in are discarded.
func (c *Conn) Tx(w, r []byte) error {
	if len(r) != 0 && len(r) != len(w) {
		return ErrBufferMismatch
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port.isClosed() {
		return ErrClosed
	}
	return c.window(func() error { return c.exchange(w, r) })
}

// TxPackets implements spi.Conn.
//
// Chip select is kept asserted between packets that have KeepCS set.
// BitsPerWord other than 0 or 8 is rejected.
func (c *Conn) TxPackets(p []spi.Packet) error {
	for i := range p {
		if p[i].BitsPerWord != 0 && p[i].BitsPerWord != 8 {
			return fmt.Errorf("%w: %d bits", ErrUnsupportedMode, p[i].BitsPerWord)
		}
		if len(p[i].R) != 0 && len(p[i].R) != len(p[i].W) {
			return ErrBufferMismatch
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port.isClosed() {
		return ErrClosed
	}
	for start := 0; start < len(p); {
		end := start
		for end < len(p)-1 && p[end].KeepCS {
			end++
		}
		group := p[start : end+1]
		err := c.window(func() error {
			for i := range group {
				if err := c.exchange(group[i].W, group[i].R); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		start = end + 1
	}
	return nil
}

// window runs f between Begin and End. End runs even when f fails.
func (c *Conn) window(f func() error) (err error) {
	if err = c.Begin(); err != nil {
		return err
	}
	defer func() {
		if errEnd := c.End(); err == nil {
			err = errEnd
		}
	}()
	return f()
}

func (c *Conn) exchange(w, r []byte) error {
	for i, b := range w {
		in, err := c.Transfer(b)
		if err != nil {
			return err
		}
		if len(r) != 0 {
			r[i] = in
		}
	}
	return nil
}

// CLK implements spi.Pins.
func (c *Conn) CLK() gpio.PinOut {
	return c.pins.CLK
}

// MOSI implements spi.Pins.
func (c *Conn) MOSI() gpio.PinOut {
	return c.pins.MOSI
}

// MISO implements spi.Pins.
func (c *Conn) MISO() gpio.PinIn {
	return c.pins.MISO
}

// CS implements spi.Pins.
func (c *Conn) CS() gpio.PinOut {
	return c.pins.CS
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var _ spi.PortCloser = &Port{}
var _ spi.Pins = &Port{}
var _ spi.Conn = &Conn{}
var _ spi.Pins = &Conn{}
