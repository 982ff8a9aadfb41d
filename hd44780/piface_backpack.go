// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hd44780

import (
	"fmt"

	"github.com/GermanBionicSystems/piface/mcp23xxx"
)

// expanderPort is port B of an MCP23S17 used as a Bus.
type expanderPort struct {
	exp *mcp23xxx.Dev
}

func (p *expanderPort) WritePort(v byte) error {
	return p.exp.WriteRegister(mcp23xxx.GPIOB, v)
}

func (p *expanderPort) ReadPort() (byte, error) {
	return p.exp.ReadRegister(mcp23xxx.GPIOB)
}

func (p *expanderPort) String() string {
	return p.exp.String() + "_PB"
}

// NewPiFaceCAD returns the 16x2 display of a PiFace Control and Display.
//
// # Product Information
//
// http://www.piface.org.uk/products/piface_control_and_display/
//
// The LCD hangs off port B of an MCP23S17, see PiFaceWiring. Port B must
// already be configured as outputs. Rows and Cols of opts are ignored.
func NewPiFaceCAD(exp *mcp23xxx.Dev, opts *Opts) (*Dev, error) {
	if v := exp.Variant(); v != mcp23xxx.MCP23S17 {
		return nil, fmt.Errorf("hd44780: PiFace uses an MCP23S17, not %s", v)
	}
	o := Opts{}
	if opts != nil {
		o = *opts
	}
	o.Rows, o.Cols = 2, 16
	return New(&expanderPort{exp: exp}, PiFaceWiring, &o)
}
