// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pifacesim

import (
	"fmt"
	"image"
	"io"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// Cell geometry of a snapshot, in pixels.
const (
	cellW   = 18
	cellH   = 28
	cellGap = 2
	padding = 12.0
)

// Snapshot renders the LCD panel as an image: one rounded cell per character,
// lit in backlight green when the backlight is on.
func (b *Board) Snapshot() (image.Image, error) {
	b.mu.Lock()
	lines := b.lcd.lines()
	on := b.lcd.displayOn
	lit := b.lcd.backlight
	b.mu.Unlock()

	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("pifacesim: %w", err)
	}
	face := truetype.NewFace(f, &truetype.Options{Size: 20})
	defer face.Close()

	w := int(2*padding) + visibleCols*(cellW+cellGap)
	h := int(2*padding) + len(lines)*(cellH+cellGap)
	dc := gg.NewContext(w, h)
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.Clear()
	dc.SetFontFace(face)
	for r, line := range lines {
		y := padding + float64(r*(cellH+cellGap))
		for c := range visibleCols {
			x := padding + float64(c*(cellW+cellGap))
			if lit {
				dc.SetRGB(0.25, 0.7, 0.25)
			} else {
				dc.SetRGB(0.2, 0.3, 0.2)
			}
			dc.DrawRoundedRectangle(x, y, cellW, cellH, 2)
			dc.Fill()
			if !on {
				continue
			}
			dc.SetRGB(0.05, 0.1, 0.05)
			dc.DrawStringAnchored(string(printable(line[c])), x+cellW/2, y+cellH/2, 0.5, 0.35)
		}
	}
	return dc.Image(), nil
}

// EncodePNG writes a snapshot of the panel to w.
func (b *Board) EncodePNG(w io.Writer) error {
	img, err := b.Snapshot()
	if err != nil {
		return err
	}
	return gg.NewContextForImage(img).EncodePNG(w)
}

// SavePNG writes a snapshot of the panel to path.
func (b *Board) SavePNG(path string) error {
	img, err := b.Snapshot()
	if err != nil {
		return err
	}
	return gg.SavePNG(path, img)
}
