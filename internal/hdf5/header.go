package hdf5

import (
	"bytes"
	"fmt"
)

// Header message types.
const (
	msgNil            = 0x00
	msgDataspace      = 0x01
	msgLinkInfo       = 0x02
	msgDatatype       = 0x03
	msgLink           = 0x06
	msgLayout         = 0x08
	msgFilterPipeline = 0x0B
	msgAttribute      = 0x0C
	msgContinuation   = 0x10
	msgSymbolTable    = 0x11
	msgAttributeInfo  = 0x15
)

// flagShared marks a message stored elsewhere and only referenced here.
const flagShared = 0x02

// maxHeaderBlocks bounds continuation chains in corrupt files.
const maxHeaderBlocks = 1024

type message struct {
	typ   uint16
	flags uint8
	data  []byte
}

// object is a parsed object header: a group, a dataset or a named type.
type object struct {
	addr uint64
	msgs []message
}

type block struct {
	addr   uint64
	length uint64
}

func (r *reader) object(addr uint64) (*object, error) {
	prefix, err := r.readAt(addr, 4)
	if err != nil {
		return nil, err
	}
	if string(prefix) == "OHDR" {
		return r.objectV2(addr)
	}
	return r.objectV1(addr)
}

// objectV1 reads a version 1 header: a 16 byte prefix, then messages with
// 8 byte headers padded to 8 byte multiples.
func (r *reader) objectV1(addr uint64) (*object, error) {
	head, err := r.readAt(addr, 16)
	if err != nil {
		return nil, err
	}
	if head[0] != 1 {
		return nil, fmt.Errorf("%w: object header version %d at %d", ErrUnsupported, head[0], addr)
	}
	d := &decoder{b: head, off: 8}
	size := d.u32()

	obj := &object{addr: addr}
	pending := []block{{addr: addr + 16, length: uint64(size)}}
	for n := 0; len(pending) > 0; n++ {
		if n == maxHeaderBlocks {
			return nil, fmt.Errorf("%w: object header at %d has too many blocks", errTruncated, addr)
		}
		b := pending[0]
		pending = pending[1:]

		data, err := r.readAt(b.addr, int(b.length))
		if err != nil {
			return nil, err
		}
		more, err := r.parseMessages(obj, &decoder{b: data, r: r}, 1, false)
		if err != nil {
			return nil, err
		}
		pending = append(pending, more...)
	}
	return obj, nil
}

// objectV2 reads a version 2 header starting with the OHDR signature.
// Continuation blocks start with OCHK; every block ends with a checksum.
func (r *reader) objectV2(addr uint64) (*object, error) {
	head, err := r.readAt(addr, 6)
	if err != nil {
		return nil, err
	}
	if head[4] != 2 {
		return nil, fmt.Errorf("%w: object header version %d at %d", ErrUnsupported, head[4], addr)
	}
	flags := head[5]

	prefix := 6
	if flags&0x20 != 0 {
		prefix += 16 // access, modification, change and birth times
	}
	if flags&0x10 != 0 {
		prefix += 4 // attribute phase change values
	}
	width := 1 << (flags & 0x03)

	head, err = r.readAt(addr, prefix+width)
	if err != nil {
		return nil, err
	}
	hd := &decoder{b: head, off: prefix}
	size := hd.uint(width)
	ordered := flags&0x04 != 0

	obj := &object{addr: addr}
	data, err := r.readAt(addr+uint64(prefix+width), int(size))
	if err != nil {
		return nil, err
	}
	pending, err := r.parseMessages(obj, &decoder{b: data, r: r}, 2, ordered)
	if err != nil {
		return nil, err
	}

	for n := 0; len(pending) > 0; n++ {
		if n == maxHeaderBlocks {
			return nil, fmt.Errorf("%w: object header at %d has too many blocks", errTruncated, addr)
		}
		b := pending[0]
		pending = pending[1:]

		data, err := r.readAt(b.addr, int(b.length))
		if err != nil {
			return nil, err
		}
		if len(data) < 8 || !bytes.Equal(data[:4], []byte("OCHK")) {
			return nil, fmt.Errorf("%w: bad continuation block at %d", errTruncated, b.addr)
		}
		more, err := r.parseMessages(obj, &decoder{b: data[4 : len(data)-4], r: r}, 2, ordered)
		if err != nil {
			return nil, err
		}
		pending = append(pending, more...)
	}
	return obj, nil
}

// parseMessages appends the messages of one header block to obj and
// returns the continuation blocks it names.
func (r *reader) parseMessages(obj *object, d *decoder, version int, ordered bool) ([]block, error) {
	headSize := 8
	if version == 2 {
		headSize = 4
		if ordered {
			headSize = 6
		}
	}

	var more []block
	for d.remaining() >= headSize {
		var typ uint16
		var size int
		var flags uint8
		if version == 1 {
			typ = d.u16()
			size = int(d.u16())
			flags = d.u8()
			d.skip(3)
		} else {
			typ = uint16(d.u8())
			size = int(d.u16())
			flags = d.u8()
			if ordered {
				d.skip(2)
			}
		}
		data := d.bytes(size)
		if d.err != nil {
			return nil, fmt.Errorf("object header at %d: %w", obj.addr, d.err)
		}

		switch typ {
		case msgNil:
		case msgContinuation:
			cd := &decoder{b: data, r: r}
			b := block{addr: cd.addr(), length: cd.length()}
			if cd.err != nil {
				return nil, cd.err
			}
			more = append(more, b)
		default:
			obj.msgs = append(obj.msgs, message{typ: typ, flags: flags, data: data})
		}
	}
	return more, nil
}

func (o *object) find(typ uint16) (message, bool) {
	for _, m := range o.msgs {
		if m.typ == typ {
			return m, true
		}
	}
	return message{}, false
}
