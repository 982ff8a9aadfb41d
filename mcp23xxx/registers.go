// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23xxx

// registerCache remembers the last value read from or written to a register
// so that read-modify-write of a single bit costs one transaction. The caller
// must hold dev.mu.
type registerCache struct {
	dev     *Dev
	address uint8
	got     bool
	cache   uint8
}

func newRegister(dev *Dev, address uint8) registerCache {
	return registerCache{dev: dev, address: address}
}

func (r *registerCache) readValue(cached bool) (uint8, error) {
	if cached && r.got {
		return r.cache, nil
	}
	v, err := r.dev.readRegister(r.address)
	if err == nil {
		r.got = true
		r.cache = v
	}
	return v, err
}

func (r *registerCache) writeValue(value uint8, cached bool) error {
	if cached && r.got && value == r.cache {
		return nil
	}
	if err := r.dev.writeRegister(r.address, value); err != nil {
		r.got = false
		return err
	}
	r.got = true
	r.cache = value
	return nil
}

func (r *registerCache) getAndSetBit(bit uint8, value bool, cached bool) error {
	v, err := r.readValue(cached)
	if err != nil {
		return err
	}
	if value {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return r.writeValue(v, cached)
}

func (r *registerCache) getBit(bit uint8, cached bool) (bool, error) {
	v, err := r.readValue(cached)
	return v&(1<<bit) != 0, err
}
