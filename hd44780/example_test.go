// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hd44780_test

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/piface/bitbang"
	"github.com/GermanBionicSystems/piface/hd44780"
	"github.com/GermanBionicSystems/piface/mcp23xxx"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/display/displaytest"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
)

// This example drives the LCD of a PiFace Control and Display through its
// MCP23S17, with the SPI link bit-banged on four host GPIOs.
func ExampleNewPiFaceCAD() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	port, err := bitbang.New(bitbang.Pins{
		CS:   gpioreg.ByName("GPIO7"),
		CLK:  gpioreg.ByName("GPIO11"),
		MOSI: gpioreg.ByName("GPIO10"),
		MISO: gpioreg.ByName("GPIO9"),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()
	c, err := port.Connect(0, spi.Mode0, 8)
	if err != nil {
		log.Fatal(err)
	}
	exp, err := mcp23xxx.NewSPI(c, mcp23xxx.MCP23S17, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer exp.Close()
	// The LCD lines of port B are outputs.
	if err := exp.Configure(1, mcp23xxx.PortConfig{}); err != nil {
		log.Fatal(err)
	}
	dev, err := hd44780.NewPiFaceCAD(exp, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	fmt.Println(dev)
	if _, err := dev.WriteString("Hello"); err != nil {
		log.Fatal(err)
	}
	if err := dev.MoveTo(2, 1); err != nil {
		log.Fatal(err)
	}
	if _, err := dev.WriteString(time.Now().Format(time.TimeOnly)); err != nil {
		log.Fatal(err)
	}
}

// This example runs the generic text display smoke test interactively.
func Example_smokeTest() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	port, err := bitbang.New(bitbang.Pins{
		CS:   gpioreg.ByName("GPIO7"),
		CLK:  gpioreg.ByName("GPIO11"),
		MOSI: gpioreg.ByName("GPIO10"),
		MISO: gpioreg.ByName("GPIO9"),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()
	c, err := port.Connect(0, spi.Mode0, 8)
	if err != nil {
		log.Fatal(err)
	}
	exp, err := mcp23xxx.NewSPI(c, mcp23xxx.MCP23S17, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer exp.Close()
	if err := exp.Configure(1, mcp23xxx.PortConfig{}); err != nil {
		log.Fatal(err)
	}
	dev, err := hd44780.NewPiFaceCAD(exp, nil)
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range displaytest.TestTextDisplay(dev, true) {
		if !errors.Is(e, display.ErrNotImplemented) {
			log.Println(e)
		}
	}
}
