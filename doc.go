// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package piface is a container for the drivers of the PiFace Control and
// Display.
//
// The stack, from the pins up:
//
//   - bitbang: SPI over four GPIOs, as an spi.PortCloser.
//   - mcp23xxx: register access and GPIO pins of the MCP23S17 expander.
//   - hd44780: the 4-bit LCD protocol with busy flag polling.
//   - pifacecad: cursor tracking, line wrap, segments and switches.
//
// pifacesim models the board behind four fake pins so everything above runs
// without hardware.
package piface
