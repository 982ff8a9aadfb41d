// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pifacesim

import (
	"bytes"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

var (
	backlightOn  = color.NRGBA{0x30, 0xA0, 0x30, 0xFF}
	backlightOff = color.NRGBA{0x20, 0x20, 0x20, 0xFF}
)

// TerminalOpts configures a Terminal.
type TerminalOpts struct {
	// W defaults to a colour capable stdout.
	W io.Writer
	// Palette defaults to ansi256.Default.
	Palette *ansi256.Palette

	_ struct{}
}

// Terminal renders the LCD panel of a Board to a terminal using ANSI colour
// codes. The frame colour follows the backlight and the character under the
// cursor is underlined when the cursor is on.
type Terminal struct {
	w       io.Writer
	palette ansi256.Palette
	buf     bytes.Buffer
}

// NewTerminal returns a Terminal.
func NewTerminal(opts *TerminalOpts) *Terminal {
	if opts == nil {
		opts = &TerminalOpts{}
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Terminal{w: w, palette: *p}
}

func (t *Terminal) String() string {
	return "PiFaceCAD(terminal)"
}

// Render draws the current panel.
func (t *Terminal) Render(b *Board) error {
	b.mu.Lock()
	lines := b.lcd.lines()
	col, row := b.lcd.cursor()
	on := b.lcd.displayOn
	cursor := b.lcd.cursorOn
	frame := backlightOff
	if b.lcd.backlight {
		frame = backlightOn
	}
	b.mu.Unlock()

	edge := t.palette.Block(frame)
	t.buf.Reset()
	_, _ = t.buf.WriteString("\033[0m")
	t.border(edge)
	for r, line := range lines {
		_, _ = io.WriteString(&t.buf, edge)
		_, _ = t.buf.WriteString("\033[0m")
		for c := range visibleCols {
			ch := byte(' ')
			if on {
				ch = printable(line[c])
			}
			if on && cursor && r == row && c == col {
				_, _ = t.buf.WriteString("\033[4m")
				_ = t.buf.WriteByte(ch)
				_, _ = t.buf.WriteString("\033[24m")
				continue
			}
			_ = t.buf.WriteByte(ch)
		}
		_, _ = io.WriteString(&t.buf, edge)
		_, _ = t.buf.WriteString("\033[0m\n")
	}
	t.border(edge)
	_, err := t.buf.WriteTo(t.w)
	return err
}

// Halt resets the terminal colours.
func (t *Terminal) Halt() error {
	_, err := t.w.Write([]byte("\033[0m"))
	return err
}

func (t *Terminal) border(edge string) {
	for range visibleCols + 2 {
		_, _ = io.WriteString(&t.buf, edge)
	}
	_, _ = t.buf.WriteString("\033[0m\n")
}

// printable maps the HD44780 A00 character ROM onto ASCII where possible.
func printable(b byte) byte {
	if b < 0x20 || b >= 0x7F {
		return '?'
	}
	return b
}
