// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pifacecad

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GermanBionicSystems/piface/bitbang"
	"github.com/GermanBionicSystems/piface/hd44780"
	"github.com/GermanBionicSystems/piface/mcp23xxx"
	"github.com/GermanBionicSystems/piface/pifacesim"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// steppingClock is a fake clock where Sleep returns immediately after moving
// time forward.
type steppingClock struct {
	clockwork.FakeClock
}

func (c *steppingClock) Sleep(d time.Duration) {
	c.Advance(d)
}

func pins(b *pifacesim.Board) bitbang.Pins {
	return bitbang.Pins{CS: b.CS, CLK: b.CLK, MOSI: b.MOSI, MISO: b.MISO}
}

func newDev(t *testing.T, opts *Opts) (*pifacesim.Board, *Dev) {
	t.Helper()
	b := pifacesim.New(nil)
	o := Opts{}
	if opts != nil {
		o = *opts
	}
	if o.LCD.Clock == nil {
		o.LCD.Clock = &steppingClock{FakeClock: clockwork.NewFakeClock()}
	}
	d, err := Open(pins(b), &o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Error(err)
		}
		if f := b.Faults(); len(f) != 0 {
			t.Errorf("faults: %q", f)
		}
	})
	return b, d
}

func checkCursor(t *testing.T, d *Dev, col, row int) {
	t.Helper()
	if c, r := d.Cursor(); c != col || r != row {
		t.Fatalf("cursor = (%d, %d), want (%d, %d)", c, r, col, row)
	}
}

func checkLines(t *testing.T, b *pifacesim.Board, want ...string) {
	t.Helper()
	got := b.Lines()
	for i := range want {
		want[i] += strings.Repeat(" ", Cols-len(want[i]))
	}
	if diff := cmp.Diff(want, got[:len(want)]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestOpen(t *testing.T) {
	b, d := newDev(t, nil)
	// The expander is configured before the first LCD access.
	want := []pifacesim.Access{
		{Op: pifacesim.Write, Reg: mcp23xxx.IODIRA, Value: 0xFF},
		{Op: pifacesim.Write, Reg: mcp23xxx.GPPUA, Value: 0xFF},
		{Op: pifacesim.Write, Reg: mcp23xxx.IODIRB, Value: 0x00},
		{Op: pifacesim.Write, Reg: mcp23xxx.GPPUB, Value: 0x00},
	}
	if diff := cmp.Diff(want, b.Log()[:len(want)]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	s := b.State()
	if !s.FourBit || !s.TwoLines || !s.DisplayOn || !s.Backlight {
		t.Fatalf("%+v", s)
	}
	checkCursor(t, d, 0, 0)
	if s := d.String(); s != "PiFaceCAD{MCP23S17_0}" {
		t.Fatal(s)
	}
}

func TestOpen_Errors(t *testing.T) {
	b := pifacesim.New(nil)
	p := pins(b)
	p.MISO = nil
	if _, err := Open(p, nil); !errors.Is(err, bitbang.ErrMissingPin) {
		t.Fatalf("got %v", err)
	}
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpen_StuckLCD(t *testing.T) {
	b := pifacesim.New(&pifacesim.Opts{Stuck: true})
	clk := &steppingClock{FakeClock: clockwork.NewFakeClock()}
	_, err := Open(pins(b), &Opts{LCD: hd44780.Opts{Clock: clk, MaxBusyPolls: 3}})
	if !errors.Is(err, hd44780.ErrBusyTimeout) {
		t.Fatalf("got %v", err)
	}
	// The pins are released on failure.
	d, err := Open(pins(pifacesim.New(nil)), &Opts{LCD: hd44780.Opts{Clock: clk}})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPutChar_Advances(t *testing.T) {
	_, d := newDev(t, nil)
	for c := byte(32); c <= 126; c++ {
		i := int(c - 32)
		col, row := i%Cols, (i/Cols)%Rows
		if err := d.SetCursor(col, row); err != nil {
			t.Fatal(err)
		}
		if err := d.PutChar(c); err != nil {
			t.Fatalf("%q: %v", c, err)
		}
		wantCol, wantRow := col+1, row
		if col == Cols-1 {
			wantCol, wantRow = 0, 1-row
		}
		if gc, gr := d.Cursor(); gc != wantCol || gr != wantRow {
			t.Fatalf("%q at (%d, %d): cursor = (%d, %d), want (%d, %d)", c, col, row, gc, gr, wantCol, wantRow)
		}
	}
}

func TestPutChar_Newline(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.PutString("ab\ncd\nef"); err != nil {
		t.Fatal(err)
	}
	checkCursor(t, d, 2, 0)
	checkLines(t, b, "ef", "cd")
	if a := b.Address(); a != 0x02 {
		t.Fatalf("address 0x%02x", a)
	}
}

func TestPutChar_PastVisible(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.SetCursor(20, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.PutChar('x'); err != nil {
		t.Fatal(err)
	}
	checkCursor(t, d, 1, 1)
	checkLines(t, b, "", "x")
}

func TestHelloWorld(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := d.PutString("HELLO WORLD!!!!!END"); err != nil {
		t.Fatal(err)
	}
	checkLines(t, b, "HELLO WORLD!!!!!", "END")
	checkCursor(t, d, 3, 1)
}

func TestSecondLineWrapsToFirst(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.PutString(strings.Repeat("a", Cols) + strings.Repeat("b", Cols) + "c"); err != nil {
		t.Fatal(err)
	}
	checkLines(t, b, "c"+strings.Repeat("a", Cols-1), strings.Repeat("b", Cols))
	checkCursor(t, d, 1, 0)
}

func TestClear(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.PrintAtSegment(3, 42); err != nil {
		t.Fatal(err)
	}
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	checkCursor(t, d, 0, 0)
	checkLines(t, b, "", "")
	if a := b.Address(); a != 0 {
		t.Fatalf("address 0x%02x", a)
	}
}

func TestSetCursor(t *testing.T) {
	data := []struct {
		col, row       int
		wantCol, wantR int
		addr           uint8
	}{
		{0, 0, 0, 0, 0x00},
		{5, 1, 5, 1, 0x45},
		{15, 1, 15, 1, 0x4F},
		{39, 0, 39, 0, 0x27},
		{50, 0, 39, 0, 0x27},
		{-3, -1, 0, 0, 0x00},
		{2, 7, 2, 1, 0x42},
		// Past the end of the address space, wraps around.
		{20, 1, 20, 1, 0x04},
	}
	for _, line := range data {
		t.Run(fmt.Sprintf("%d,%d", line.col, line.row), func(t *testing.T) {
			b, d := newDev(t, nil)
			for range 2 {
				if err := d.SetCursor(line.col, line.row); err != nil {
					t.Fatal(err)
				}
				if a := b.Address(); a != line.addr {
					t.Fatalf("address 0x%02x, want 0x%02x", a, line.addr)
				}
				checkCursor(t, d, line.wantCol, line.wantR)
			}
		})
	}
}

func TestSetCursor_Delay(t *testing.T) {
	clk := &steppingClock{FakeClock: clockwork.NewFakeClock()}
	_, d := newDev(t, &Opts{CursorDelay: time.Millisecond, LCD: hd44780.Opts{Clock: clk}})
	start := clk.Now()
	if err := d.SetCursor(3, 1); err != nil {
		t.Fatal(err)
	}
	if got := clk.Since(start); got != time.Millisecond {
		t.Fatalf("slept %s", got)
	}
}

func TestPrintAtSegment(t *testing.T) {
	data := []struct {
		seg, num int
		col, row int
		lines    [2]string
	}{
		{0, 0, 7, 0, [2]string{"S0:0000", ""}},
		{1, 42, 15, 0, [2]string{"        S1:0042", ""}},
		{2, 7, 7, 1, [2]string{"", "S2:0007"}},
		{3, 9999, 15, 1, [2]string{"", "        S3:9999"}},
		{0, -7, 7, 0, [2]string{"S0:-007", ""}},
		{1, 123456, 1, 1, [2]string{"        S1:12345", "6"}},
	}
	for _, line := range data {
		t.Run(fmt.Sprintf("%d:%d", line.seg, line.num), func(t *testing.T) {
			b, d := newDev(t, nil)
			if err := d.PrintAtSegment(line.seg, line.num); err != nil {
				t.Fatal(err)
			}
			checkLines(t, b, line.lines[0], line.lines[1])
			checkCursor(t, d, line.col, line.row)
		})
	}
}

func TestPrintAtSegment_Overwrites(t *testing.T) {
	b, d := newDev(t, nil)
	for seg := range 4 {
		if err := d.PrintAtSegment(seg, seg*11); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.PrintAtSegment(1, 5); err != nil {
		t.Fatal(err)
	}
	checkLines(t, b, "S0:0000 S1:0005", "S2:0022 S3:0033")
}

func TestPrintfAtSegment(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.PrintfAtSegment(3, "T=%.1f\a", 21.5); err != nil {
		t.Fatal(err)
	}
	checkLines(t, b, "", "        T=21.5")
	checkCursor(t, d, 14, 1)
}

func TestInvalidInputs(t *testing.T) {
	buf := bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	b, d := newDev(t, &Opts{Logger: logger})
	if err := d.SetCursor(4, 1); err != nil {
		t.Fatal(err)
	}
	b.ResetLog()
	if err := d.PutChar(1); !errors.Is(err, ErrInvalidChar) {
		t.Fatalf("got %v", err)
	}
	if err := d.PutChar(127); !errors.Is(err, ErrInvalidChar) {
		t.Fatalf("got %v", err)
	}
	if n, err := d.Write(nil); n != 0 || !errors.Is(err, ErrNilText) {
		t.Fatalf("got %d, %v", n, err)
	}
	for _, seg := range []int{-1, 4} {
		if err := d.PrintAtSegment(seg, 5); !errors.Is(err, ErrInvalidSegment) {
			t.Fatalf("got %v", err)
		}
		if err := d.PrintfAtSegment(seg, "x"); !errors.Is(err, ErrInvalidSegment) {
			t.Fatalf("got %v", err)
		}
	}
	checkCursor(t, d, 4, 1)
	if l := b.Log(); len(l) != 0 {
		t.Fatalf("unexpected I/O: %v", l)
	}
	out := buf.String()
	for _, msg := range []string{"invalid character", "nil text", "invalid segment"} {
		if !strings.Contains(out, msg) {
			t.Errorf("missing %q in log:\n%s", msg, out)
		}
	}
}

func TestPutString_SkipsInvalid(t *testing.T) {
	b, d := newDev(t, nil)
	err := d.PutString("A\x01B\x02C")
	if !errors.Is(err, ErrInvalidChar) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "0x01") || !strings.Contains(err.Error(), "0x02") {
		t.Fatal(err)
	}
	checkLines(t, b, "ABC")
	checkCursor(t, d, 3, 0)
}

func TestWrite(t *testing.T) {
	b, d := newDev(t, nil)
	n, err := fmt.Fprintf(d, "%d%%", 99)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("wrote %d", n)
	}
	checkLines(t, b, "99%")
	if n, err := d.Write([]byte{}); n != 0 || err != nil {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestButtons(t *testing.T) {
	b, d := newDev(t, nil)
	v, err := d.Buttons()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xFF {
		t.Fatalf("idle 0x%02x", v)
	}
	b.Press(1<<S3 | 1<<NavLeft)
	if v, err = d.Buttons(); err != nil {
		t.Fatal(err)
	}
	for s := S1; s <= NavRight; s++ {
		if want := s == S3 || s == NavLeft; Pressed(v, s) != want {
			t.Errorf("switch %d: pressed=%t", s, !want)
		}
	}
	g := d.Switches()
	got, err := g.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xBB {
		t.Fatalf("group read 0x%02x", got)
	}
	b.Release(0xFF)
	if got, err = g.Read(1 << S3); err != nil || got != 1<<S3 {
		t.Fatalf("group read 0x%02x, %v", got, err)
	}
}

func TestBacklight(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.Backlight(0); err != nil {
		t.Fatal(err)
	}
	if err := d.PutString("off"); err != nil {
		t.Fatal(err)
	}
	if b.State().Backlight {
		t.Fatal("backlight on")
	}
	if err := d.Backlight(1); err != nil {
		t.Fatal(err)
	}
	if !b.State().Backlight {
		t.Fatal("backlight off")
	}
	checkLines(t, b, "off")
}

func TestHalt(t *testing.T) {
	b, d := newDev(t, nil)
	if err := d.PutString("bye"); err != nil {
		t.Fatal(err)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if s := b.State(); s.DisplayOn || s.Backlight {
		t.Fatalf("%+v", s)
	}
	checkLines(t, b, "", "")
	checkCursor(t, d, 0, 0)
}

func TestConcurrent(t *testing.T) {
	b, d := newDev(t, nil)
	var wg sync.WaitGroup
	for seg := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 3 {
				if err := d.PrintAtSegment(seg, seg*1000+n); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	checkLines(t, b, "S0:0002 S1:1002", "S2:2002 S3:3002")
}

func TestTransportError(t *testing.T) {
	b := pifacesim.New(nil)
	clk := &steppingClock{FakeClock: clockwork.NewFakeClock()}
	clkPin := &failingPin{Pin: gpiotest.Pin{N: "CLK"}}
	p := pins(b)
	p.CLK = clkPin
	// The fake clock line never reaches the board, so every read returns 0
	// and the LCD always looks ready; Open succeeds.
	d, err := Open(p, &Opts{LCD: hd44780.Opts{Clock: clk}})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	clkPin.fail = true
	if err := d.PutChar('x'); err == nil || !strings.HasPrefix(err.Error(), "pifacecad: ") {
		t.Fatalf("got %v", err)
	}
	checkCursor(t, d, 0, 0)
}

// failingPin is a pin whose Out starts failing on demand.
type failingPin struct {
	gpiotest.Pin
	fail bool
}

func (f *failingPin) Out(l gpio.Level) error {
	if f.fail {
		return errors.New("pin is gone")
	}
	return f.Pin.Out(l)
}
