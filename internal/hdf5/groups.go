package hdf5

import (
	"bytes"
	"fmt"
)

// maxTreeDepth bounds B-tree recursion in corrupt files.
const maxTreeDepth = 64

// child returns the object header address of the member name of group obj.
// Old-style groups keep members in a symbol table: a version 1 B-tree of
// symbol nodes whose names live in a local heap. New-style groups store
// small member lists as link messages in the header itself.
func (r *reader) child(obj *object, name string) (uint64, error) {
	if m, ok := obj.find(msgSymbolTable); ok {
		d := &decoder{b: m.data, r: r}
		tree, heap := d.addr(), d.addr()
		if d.err != nil {
			return 0, d.err
		}
		return r.symbolTableChild(tree, heap, name)
	}

	for _, m := range obj.msgs {
		switch m.typ {
		case msgLink:
			l, err := parseLink(m.data, r)
			if err != nil {
				return 0, err
			}
			if l.name != name {
				continue
			}
			if !l.hard {
				return 0, fmt.Errorf("%w: %s is not a hard link", ErrUnsupported, name)
			}
			return l.addr, nil
		case msgLinkInfo:
			if r.denseLinks(m.data) {
				return 0, fmt.Errorf("%w: dense link storage", ErrUnsupported)
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (r *reader) symbolTableChild(tree, heap uint64, name string) (uint64, error) {
	names, err := r.localHeap(heap)
	if err != nil {
		return 0, err
	}

	var found uint64
	ok := false
	err = r.walkGroupTree(tree, 0, func(nameOffset, addr uint64) bool {
		if nameOffset < uint64(len(names)) && cString(names[nameOffset:]) == name {
			found, ok = addr, true
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return found, nil
}

// localHeap returns the data segment of the local heap at addr.
func (r *reader) localHeap(addr uint64) ([]byte, error) {
	head, err := r.readAt(addr, 8+2*r.lengthSize+r.offsetSize)
	if err != nil {
		return nil, err
	}
	if string(head[:4]) != "HEAP" {
		return nil, fmt.Errorf("%w: no local heap at %d", errTruncated, addr)
	}
	d := &decoder{b: head, off: 8, r: r}
	size := d.length()
	d.skip(r.lengthSize) // free list
	data := d.addr()
	if d.err != nil {
		return nil, d.err
	}
	return r.readAt(data, int(size))
}

// walkGroupTree calls fn for every symbol table entry below the group
// B-tree node at addr, stopping early when fn returns false.
func (r *reader) walkGroupTree(addr uint64, depth int, fn func(nameOffset, addr uint64) bool) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: group B-tree too deep", errTruncated)
	}
	head, err := r.readAt(addr, 8)
	if err != nil {
		return err
	}
	if string(head[:4]) != "TREE" || head[4] != 0 {
		return fmt.Errorf("%w: no group B-tree node at %d", errTruncated, addr)
	}
	level := head[5]
	entries := int(uint16(head[6]) | uint16(head[7])<<8)

	keySize := r.lengthSize
	node, err := r.readAt(addr, 8+2*r.offsetSize+entries*(keySize+r.offsetSize)+keySize)
	if err != nil {
		return err
	}
	d := &decoder{b: node, off: 8 + 2*r.offsetSize, r: r}
	children := make([]uint64, entries)
	for i := range children {
		d.skip(keySize)
		children[i] = d.addr()
	}
	if d.err != nil {
		return d.err
	}

	for _, c := range children {
		var more bool
		if level > 0 {
			stop := false
			err = r.walkGroupTree(c, depth+1, func(n, a uint64) bool {
				if !fn(n, a) {
					stop = true
					return false
				}
				return true
			})
			more = !stop
		} else {
			more, err = r.walkSymbolNode(c, fn)
		}
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// walkSymbolNode visits the entries of one SNOD block.
func (r *reader) walkSymbolNode(addr uint64, fn func(nameOffset, addr uint64) bool) (bool, error) {
	head, err := r.readAt(addr, 8)
	if err != nil {
		return false, err
	}
	if string(head[:4]) != "SNOD" {
		return false, fmt.Errorf("%w: no symbol table node at %d", errTruncated, addr)
	}
	count := int(uint16(head[6]) | uint16(head[7])<<8)

	entrySize := 2*r.offsetSize + 24
	data, err := r.readAt(addr+8, count*entrySize)
	if err != nil {
		return false, err
	}
	for i := 0; i < count; i++ {
		d := &decoder{b: data[i*entrySize:], r: r}
		nameOffset, obj := d.addr(), d.addr()
		if d.err != nil {
			return false, d.err
		}
		if !fn(nameOffset, obj) {
			return false, nil
		}
	}
	return true, nil
}

type link struct {
	name string
	hard bool
	addr uint64
}

func parseLink(b []byte, r *reader) (link, error) {
	d := &decoder{b: b, r: r}
	if v := d.u8(); v != 1 {
		return link{}, fmt.Errorf("%w: link message version %d", ErrUnsupported, v)
	}
	flags := d.u8()
	linkType := uint8(0)
	if flags&0x08 != 0 {
		linkType = d.u8()
	}
	if flags&0x04 != 0 {
		d.skip(8) // creation order
	}
	if flags&0x10 != 0 {
		d.skip(1) // character set
	}
	n := d.uint(1 << (flags & 0x03))
	l := link{name: string(d.bytes(int(n))), hard: linkType == 0}
	if l.hard {
		l.addr = d.addr()
	}
	return l, d.err
}

// denseLinks reports whether a link info message points at a fractal
// heap, meaning the links are not in the object header.
func (r *reader) denseLinks(b []byte) bool {
	d := &decoder{b: b, r: r}
	d.skip(1)
	if flags := d.u8(); flags&0x01 != 0 {
		d.skip(8)
	}
	heap := d.addr()
	return d.err == nil && !r.undefined(heap)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
