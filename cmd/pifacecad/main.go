// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// pifacecad writes to the LCD of a PiFace Control and Display and reads its
// switches.
//
// The SPI link is bit-banged on four GPIOs, by default the SPI0 pins of the
// Raspberry Pi header with chip select 1:
//
//	PiFace     Raspberry Pi
//	CS         GPIO7 (SPI0 CE1)
//	SCLK       GPIO11
//	MOSI       GPIO10
//	MISO       GPIO9
//
// With -sim, the board is simulated and the screen is printed on the
// terminal; -png also saves it as an image.
//
// Examples:
//
//	pifacecad -text "Hello\nworld"
//	pifacecad -seg 2 -num 7
//	pifacecad -sim -seg 1 -num 42 -png out.png
//	pifacecad -buttons
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/GermanBionicSystems/piface/bitbang"
	"github.com/GermanBionicSystems/piface/pifacecad"
	"github.com/GermanBionicSystems/piface/pifacesim"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func pinsByName(cs, clk, mosi, miso string) (bitbang.Pins, error) {
	p := bitbang.Pins{}
	for _, l := range []struct {
		name string
		set  func(n string) bool
	}{
		{cs, func(n string) bool { p.CS = gpioreg.ByName(n); return p.CS != nil }},
		{clk, func(n string) bool { p.CLK = gpioreg.ByName(n); return p.CLK != nil }},
		{mosi, func(n string) bool { p.MOSI = gpioreg.ByName(n); return p.MOSI != nil }},
		{miso, func(n string) bool { p.MISO = gpioreg.ByName(n); return p.MISO != nil }},
	} {
		if !l.set(l.name) {
			return p, fmt.Errorf("no pin named %q", l.name)
		}
	}
	return p, nil
}

// watchButtons prints the switches as they change until interrupted.
func watchButtons(dev *pifacecad.Dev, logger *slog.Logger) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	last := byte(0xFF)
	names := []string{"S1", "S2", "S3", "S4", "S5", "press", "left", "right"}
	for {
		select {
		case <-c:
			return nil
		case <-t.C:
		}
		b, err := dev.Buttons()
		if err != nil {
			return err
		}
		if b == last {
			continue
		}
		last = b
		var down []string
		for s := pifacecad.S1; s <= pifacecad.NavRight; s++ {
			if pifacecad.Pressed(b, s) {
				down = append(down, names[s])
			}
		}
		logger.Debug("buttons", slog.String("raw", fmt.Sprintf("0x%02x", b)))
		fmt.Printf("pressed: %s\n", strings.Join(down, " "))
	}
}

func mainImpl() error {
	cs := flag.String("cs", "GPIO7", "chip select pin")
	clk := flag.String("clk", "GPIO11", "clock pin")
	mosi := flag.String("mosi", "GPIO10", "data out pin")
	miso := flag.String("miso", "GPIO9", "data in pin")
	hz := flag.Int("hz", 0, "SPI clock in Hz, 0 for as fast as possible")
	sim := flag.Bool("sim", false, "use a simulated board instead of the GPIOs")
	png := flag.String("png", "", "with -sim, save the screen to this PNG file")
	text := flag.String("text", "", "text to write, \\n starts the other line")
	seg := flag.Int("seg", -1, "segment (0-3) to print -num in")
	num := flag.Int("num", 0, "number printed with -seg")
	clr := flag.Bool("clear", true, "clear the screen first")
	light := flag.Bool("backlight", true, "backlight on")
	buttons := flag.Bool("buttons", false, "print the switches as they change, until Ctrl-C")
	halt := flag.Bool("halt", false, "turn the display off before exiting")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var board *pifacesim.Board
	var pins bitbang.Pins
	if *sim {
		board = pifacesim.New(nil)
		pins = bitbang.Pins{CS: board.CS, CLK: board.CLK, MOSI: board.MOSI, MISO: board.MISO}
	} else {
		if _, err := host.Init(); err != nil {
			return err
		}
		var err error
		if pins, err = pinsByName(*cs, *clk, *mosi, *miso); err != nil {
			return err
		}
	}
	logger.Debug("opening", slog.String("pins", pins.String()))
	opts := pifacecad.DefaultOpts
	opts.Frequency = physic.Frequency(*hz) * physic.Hertz
	opts.Logger = logger
	dev, err := pifacecad.Open(pins, &opts)
	if err != nil {
		return err
	}
	defer dev.Close()
	logger.Debug("opened", slog.String("dev", dev.String()))

	if !*light {
		if err := dev.Backlight(0); err != nil {
			return err
		}
	}
	if *clr {
		if err := dev.Clear(); err != nil {
			return err
		}
	}
	if *text != "" {
		if err := dev.PutString(strings.ReplaceAll(*text, `\n`, "\n")); err != nil {
			return err
		}
	}
	if *seg != -1 {
		if err := dev.PrintAtSegment(*seg, *num); err != nil {
			return err
		}
	}
	if *buttons {
		if err := watchButtons(dev, logger); err != nil {
			return err
		}
	}
	if *halt {
		if err := dev.Halt(); err != nil {
			return err
		}
	}

	if board != nil {
		if f := board.Faults(); len(f) != 0 {
			return fmt.Errorf("simulated board faults: %s", strings.Join(f, "; "))
		}
		if err := pifacesim.NewTerminal(nil).Render(board); err != nil {
			return err
		}
		if *png != "" {
			if err := board.SavePNG(*png); err != nil {
				return err
			}
		}
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "pifacecad: %s.\n", err)
		os.Exit(1)
	}
}
