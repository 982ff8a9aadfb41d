// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mcp23xxx provides a driver for the SPI variants of the MCP23XXX
// family of GPIO expanders: the 8 bit MCP23S08 and the 16 bit MCP23S17.
//
// The device can be used three ways: raw register access with ReadRegister
// and WriteRegister, per pin gpio.PinIO in Dev.Pins, or a port wide
// gpio.Group. Pins are registered in gpioreg under names such as
// "MCP23S17_0_PB_7".
//
// Only IOCON.BANK=0 addressing is supported, which is the power-on default.
//
// # Datasheet
//
// https://ww1.microchip.com/downloads/en/DeviceDoc/20001952C.pdf
package mcp23xxx
