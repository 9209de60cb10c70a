package hdf5

import (
	"encoding/binary"
	"fmt"
	"io"
)

// reader resolves file addresses, which are relative to the base address
// and stored with the widths the superblock declares.
type reader struct {
	ra         io.ReaderAt
	size       int64
	base       uint64
	offsetSize int
	lengthSize int
}

func (r *reader) checkSizes() error {
	for _, n := range []int{r.offsetSize, r.lengthSize} {
		if n != 2 && n != 4 && n != 8 {
			return fmt.Errorf("%w: field width %d", ErrUnsupported, n)
		}
	}
	return nil
}

func (r *reader) readAt(addr uint64, n int) ([]byte, error) {
	pos := r.base + addr
	if n < 0 || pos > uint64(r.size) || uint64(n) > uint64(r.size)-pos {
		return nil, fmt.Errorf("%w: %d bytes at %d", errTruncated, n, addr)
	}
	buf := make([]byte, n)
	if _, err := r.ra.ReadAt(buf, int64(pos)); err != nil {
		if err == io.EOF {
			return nil, errTruncated
		}
		return nil, err
	}
	return buf, nil
}

// undefined reports whether a is the all-ones "no address" value.
func (r *reader) undefined(a uint64) bool {
	return a == ^uint64(0)>>(64-8*r.offsetSize)
}

// decoder reads little-endian fields from a byte slice. The first out of
// range read sets err and every later read returns zero.
type decoder struct {
	b   []byte
	off int
	err error
	r   *reader
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || d.off+n > len(d.b) {
		d.err = errTruncated
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) u16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.b[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

// uint reads an n byte little-endian unsigned integer.
func (d *decoder) uint(n int) uint64 {
	if !d.need(n) {
		return 0
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(d.b[d.off+i])
	}
	d.off += n
	return v
}

func (d *decoder) addr() uint64 {
	return d.uint(d.r.offsetSize)
}

func (d *decoder) length() uint64 {
	return d.uint(d.r.lengthSize)
}

func (d *decoder) bytes(n int) []byte {
	if !d.need(n) {
		return nil
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v
}

func (d *decoder) skip(n int) {
	if d.need(n) {
		d.off += n
	}
}

func (d *decoder) remaining() int {
	return len(d.b) - d.off
}

// pad8 rounds n up to a multiple of eight.
func pad8(n int) int {
	return (n + 7) &^ 7
}
