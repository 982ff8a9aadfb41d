// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pifacecad_test

import (
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/piface/bitbang"
	"github.com/GermanBionicSystems/piface/pifacecad"
	"github.com/GermanBionicSystems/piface/pifacesim"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func ExampleOpen() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	// The PiFace sits on the SPI pins of the header, chip select 1.
	dev, err := pifacecad.Open(bitbang.Pins{
		CS:   gpioreg.ByName("GPIO7"),
		CLK:  gpioreg.ByName("GPIO11"),
		MOSI: gpioreg.ByName("GPIO10"),
		MISO: gpioreg.ByName("GPIO9"),
	}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	if err := dev.PutString("Press S1 to quit"); err != nil {
		log.Fatal(err)
	}
	for n := 0; ; n++ {
		b, err := dev.Buttons()
		if err != nil {
			log.Fatal(err)
		}
		if pifacecad.Pressed(b, pifacecad.S1) {
			break
		}
		if err := dev.PrintAtSegment(2, n); err != nil {
			log.Fatal(err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := dev.Halt(); err != nil {
		log.Fatal(err)
	}
}

func ExampleDev_PrintAtSegment() {
	b := pifacesim.New(nil)
	dev, err := pifacecad.Open(bitbang.Pins{CS: b.CS, CLK: b.CLK, MOSI: b.MOSI, MISO: b.MISO}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	for seg := range 4 {
		if err := dev.PrintAtSegment(seg, seg*250); err != nil {
			log.Fatal(err)
		}
	}
	for _, line := range b.Lines() {
		fmt.Printf("|%s|\n", line)
	}
	// Output:
	// |S0:0000 S1:0250 |
	// |S2:0500 S3:0750 |
}
