// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hd44780

import (
	"periph.io/x/conn/v3/display"
)

// Backlight turns the backlight on or off. Any intensity above 0 is on.
//
// The backlight line shares the port with the controller, so its level is
// carried in every subsequent port write, busy flag reads included.
func (d *Dev) Backlight(intensity display.Intensity) error {
	if d.w.Backlight == 0 {
		return display.ErrNotImplemented
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backlight = intensity > 0
	// EN low, RW low: no effect on the controller.
	return wrap(d.bus.WritePort(d.lit()))
}

// lit returns the backlight bits to OR into a port write.
func (d *Dev) lit() byte {
	if d.backlight {
		return d.w.Backlight
	}
	return 0
}
