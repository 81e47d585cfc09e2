// Package ramdevice is an in-memory implementation of blockio.Device: a
// goroutine-safe fake standing in for a real block device so scrub's tests
// don't need one.
//
// It additionally exposes a corruption-injection API (Corrupt, InjectIOError)
// so tests can exercise the error-recovery state machine's mirror-search and
// repair paths without a real disk.
package ramdevice

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/btrfs-scrub/blockio"
)

type corruptionRule struct {
	offset uint64
	length uint64
}

// Device is an in-memory block device: a single contiguous byte buffer plus
// injected I/O-error and bit-flip rules.
type Device struct {
	sync.Mutex // protects contents, ioErrors, corruptions, readCount, writeCount
	name string
	contents []byte

	ioErrors map[uint64]error // offset -> error to return instead of completing the IO
	corruptions []corruptionRule

	readCount uint64
	writeCount uint64
}

// New allocates a zero-filled Device of size bytes.
func New(name string, size uint64) *Device {
	return &Device{
		name: name,
		contents: make([]byte, size),
		ioErrors: make(map[uint64]error),
	}
}

func (d *Device) Name() string { return d.name }

func (d *Device) PhysicalSize() uint64 {
	d.Lock()
	defer d.Unlock()
	return uint64(len(d.contents))
}

// InjectIOError makes the next I/O starting at offset fail with err instead of
// completing, simulating an unreadable sector.
func (d *Device) InjectIOError(offset uint64, err error) {
	d.Lock()
	defer d.Unlock()
	d.ioErrors[offset] = err
}

// Corrupt flips the on-disk bytes covering [offset, offset+length) without
// failing the I/O, simulating silent bit rot a checksum mismatch must catch.
func (d *Device) Corrupt(offset, length uint64) {
	d.Lock()
	defer d.Unlock()
	d.corruptions = append(d.corruptions, corruptionRule{offset: offset, length: length})
	for i := offset; i < offset+length && i < uint64(len(d.contents)); i++ {
		d.contents[i] ^= 0xFF
	}
}

// Seed writes data at offset directly, bypassing the Submit path, for test
// setup.
func (d *Device) Seed(offset uint64, data []byte) {
	d.Lock()
	defer d.Unlock()
	copy(d.contents[offset:], data)
}

// ReadAt copies out the raw bytes at [offset, offset+length) for test
// assertions.
func (d *Device) ReadAt(offset, length uint64) []byte {
	d.Lock()
	defer d.Unlock()
	out := make([]byte, length)
	copy(out, d.contents[offset:offset+length])
	return out
}

func (d *Device) ReadCount() uint64 { d.Lock(); defer d.Unlock(); return d.readCount }
func (d *Device) WriteCount() uint64 { d.Lock(); defer d.Unlock(); return d.writeCount }

func (d *Device) doIO(io *blockio.IO, dir blockio.Direction) error {
	d.Lock()
	defer d.Unlock()

	if err, ok := d.ioErrors[io.PhysOffset]; ok {
		delete(d.ioErrors, io.PhysOffset)
		return err
	}

	length := io.Length()
	if io.PhysOffset+length > uint64(len(d.contents)) {
		return fmt.Errorf("ramdevice: [%d,%d) past end of device %q (size %d)", io.PhysOffset, io.PhysOffset+length, d.name, len(d.contents))
	}

	switch dir {
	case blockio.DirectionRead:
		d.readCount++
		pos := io.PhysOffset
		for _, page := range io.Pages {
			copy(page, d.contents[pos:pos+io.PageSize])
			pos += io.PageSize
		}
	case blockio.DirectionWrite:
		d.writeCount++
		pos := io.PhysOffset
		for _, page := range io.Pages {
			copy(d.contents[pos:pos+io.PageSize], page)
			pos += io.PageSize
		}
	}
	return nil
}

// Submit runs the I/O synchronously but invokes done from a fresh goroutine,
// matching the asynchronous-completion contract blockio.Device promises.
func (d *Device) Submit(ctx context.Context, io *blockio.IO, dir blockio.Direction, done blockio.CompletionFunc) error {
	err := d.doIO(io, dir)
	go done(io, err)
	return nil
}

func (d *Device) SubmitAndWait(ctx context.Context, io *blockio.IO, dir blockio.Direction) error {
	return d.doIO(io, dir)
}
