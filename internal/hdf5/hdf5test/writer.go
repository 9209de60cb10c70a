// Package hdf5test writes small HDF5 files for tests.
//
// Files use the layout h5py produces with default settings: a version 0
// superblock, version 1 object headers and groups stored as symbol tables.
// Datasets are contiguous, or chunked with optional shuffle and deflate.
package hdf5test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/klauspost/compress/zlib"
)

// Attr is a numeric attribute. Data is []float32, []float64, []uint8,
// []uint16 or []int32.
type Attr struct {
	Name string
	Data any
}

// Dataset is a numeric array. Dims are slowest varying first and Data
// holds their product of elements in row-major order.
type Dataset struct {
	Name  string
	Dims  []int
	Data  any
	Attrs []Attr

	// Chunk selects chunked storage with this chunk shape
	Chunk   []int
	Shuffle bool
	Deflate bool
}

// Group holds datasets, subgroups and attributes.
type Group struct {
	Name     string
	Groups   []*Group
	Datasets []*Dataset
	Attrs    []Attr
}

// WriteFile encodes root and writes it to path.
func WriteFile(path string, root *Group) error {
	data, err := Encode(root)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

const (
	superblockSize = 96
	leafK          = 4
	internalK      = 16
)

var undefined = ^uint64(0)

// Encode returns the file image of root.
func Encode(root *Group) ([]byte, error) {
	w := &writer{buf: make([]byte, superblockSize)}
	header, tree, heap, err := w.group(root)
	if err != nil {
		return nil, err
	}

	sb := &bytes.Buffer{}
	sb.Write([]byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'})
	sb.Write([]byte{0, 0, 0, 0, 0, 8, 8, 0})
	put(sb, uint16(leafK), uint16(internalK), uint32(0))
	put(sb, uint64(0), undefined, uint64(len(w.buf)), undefined)
	// root group symbol table entry, caching its B-tree and heap
	put(sb, uint64(0), header, uint32(1), uint32(0), tree, heap)
	copy(w.buf, sb.Bytes())
	return w.buf, nil
}

type writer struct {
	buf []byte
}

// alloc appends b at the next 8 byte boundary and returns its address.
func (w *writer) alloc(b []byte) uint64 {
	for len(w.buf)%8 != 0 {
		w.buf = append(w.buf, 0)
	}
	addr := uint64(len(w.buf))
	w.buf = append(w.buf, b...)
	return addr
}

type entry struct {
	name string
	addr uint64
}

func (w *writer) group(g *Group) (header, tree, heap uint64, err error) {
	var entries []entry
	for _, sub := range g.Groups {
		addr, _, _, err := w.group(sub)
		if err != nil {
			return 0, 0, 0, err
		}
		entries = append(entries, entry{sub.Name, addr})
	}
	for _, ds := range g.Datasets {
		addr, err := w.dataset(ds)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%s: %w", ds.Name, err)
		}
		entries = append(entries, entry{ds.Name, addr})
	}
	if len(entries) > 2*leafK {
		return 0, 0, 0, fmt.Errorf("group %q has more than %d members", g.Name, 2*leafK)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	// local heap: offset 0 is the empty string
	names := make([]byte, 8)
	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		offsets[i] = uint64(len(names))
		names = append(names, e.name...)
		names = append(names, 0)
		for len(names)%8 != 0 {
			names = append(names, 0)
		}
	}
	heapData := w.alloc(names)
	hb := &bytes.Buffer{}
	hb.WriteString("HEAP")
	hb.Write([]byte{0, 0, 0, 0})
	put(hb, uint64(len(names)), undefined, heapData)
	heap = w.alloc(hb.Bytes())

	sn := &bytes.Buffer{}
	sn.WriteString("SNOD")
	sn.Write([]byte{1, 0})
	put(sn, uint16(len(entries)))
	for i := 0; i < 2*leafK; i++ {
		if i < len(entries) {
			put(sn, offsets[i], entries[i].addr)
		} else {
			put(sn, uint64(0), uint64(0))
		}
		put(sn, uint32(0), uint32(0), [16]byte{})
	}
	snod := w.alloc(sn.Bytes())

	tb := &bytes.Buffer{}
	tb.WriteString("TREE")
	tb.Write([]byte{0, 0})
	used := uint16(0)
	if len(entries) > 0 {
		used = 1
	}
	put(tb, used, undefined, undefined)
	put(tb, uint64(0))
	if used == 1 {
		put(tb, snod, offsets[len(offsets)-1])
	}
	tree = w.alloc(tb.Bytes())

	msgs := []msg{{0x11, pack(tree, heap)}}
	attrs, err := attributeMessages(g.Attrs)
	if err != nil {
		return 0, 0, 0, err
	}
	header = w.objectHeader(append(msgs, attrs...))
	return header, tree, heap, nil
}

func (w *writer) dataset(ds *Dataset) (uint64, error) {
	dt, size, raw, n, err := encodeData(ds.Data)
	if err != nil {
		return 0, err
	}
	if count(ds.Dims) != n {
		return 0, fmt.Errorf("%d elements for shape %v", n, ds.Dims)
	}

	msgs := []msg{{0x01, dataspace(ds.Dims)}, {0x03, dt}}
	if ds.Chunk == nil {
		addr := w.alloc(raw)
		msgs = append(msgs, msg{0x08, pack(uint8(3), uint8(1), addr, uint64(len(raw)))})
	} else {
		layout, pipeline, err := w.chunks(ds, raw, size)
		if err != nil {
			return 0, err
		}
		if pipeline != nil {
			msgs = append(msgs, msg{0x0B, pipeline})
		}
		msgs = append(msgs, msg{0x08, layout})
	}

	attrs, err := attributeMessages(ds.Attrs)
	if err != nil {
		return 0, err
	}
	return w.objectHeader(append(msgs, attrs...)), nil
}

// chunks writes every chunk of ds and a one-node B-tree indexing them, and
// returns the layout and filter pipeline messages.
func (w *writer) chunks(ds *Dataset, raw []byte, size int) (layout, pipeline []byte, err error) {
	rank := len(ds.Dims)
	if len(ds.Chunk) != rank {
		return nil, nil, fmt.Errorf("chunk rank %d for dataset rank %d", len(ds.Chunk), rank)
	}
	grid := make([]int, rank)
	for i := range grid {
		grid[i] = (ds.Dims[i] + ds.Chunk[i] - 1) / ds.Chunk[i]
	}

	type stored struct {
		addr   uint64
		size   int
		origin []int
	}
	var chunks []stored
	each(grid, func(cidx []int) {
		origin := make([]int, rank)
		for i := range origin {
			origin[i] = cidx[i] * ds.Chunk[i]
		}
		buf := make([]byte, count(ds.Chunk)*size)
		each(ds.Chunk, func(idx []int) {
			src, dst := 0, 0
			for i := 0; i < rank; i++ {
				g := origin[i] + idx[i]
				if g >= ds.Dims[i] {
					return
				}
				src = src*ds.Dims[i] + g
				dst = dst*ds.Chunk[i] + idx[i]
			}
			copy(buf[dst*size:(dst+1)*size], raw[src*size:(src+1)*size])
		})
		if ds.Shuffle {
			buf = shuffle(buf, size)
		}
		if ds.Deflate && err == nil {
			buf, err = deflate(buf)
		}
		chunks = append(chunks, stored{w.alloc(buf), len(buf), origin})
	})
	if err != nil {
		return nil, nil, err
	}

	tb := &bytes.Buffer{}
	tb.WriteString("TREE")
	tb.Write([]byte{1, 0})
	put(tb, uint16(len(chunks)), undefined, undefined)
	for _, c := range chunks {
		put(tb, uint32(c.size), uint32(0))
		for _, o := range c.origin {
			put(tb, uint64(o))
		}
		put(tb, uint64(0), c.addr)
	}
	put(tb, uint32(0), uint32(0))
	for _, d := range ds.Dims {
		put(tb, uint64(d))
	}
	put(tb, uint64(0))
	tree := w.alloc(tb.Bytes())

	lb := &bytes.Buffer{}
	put(lb, uint8(3), uint8(2), uint8(rank+1), tree)
	for _, c := range ds.Chunk {
		put(lb, uint32(c))
	}
	put(lb, uint32(size))

	var filters [][2]uint32
	if ds.Shuffle {
		filters = append(filters, [2]uint32{2, uint32(size)})
	}
	if ds.Deflate {
		filters = append(filters, [2]uint32{1, 6})
	}
	if filters != nil {
		pb := &bytes.Buffer{}
		put(pb, uint8(1), uint8(len(filters)), [6]byte{})
		for _, f := range filters {
			// id, name length, flags, one client value padded to 8 bytes
			put(pb, uint16(f[0]), uint16(0), uint16(0), uint16(1), f[1], uint32(0))
		}
		pipeline = pb.Bytes()
	}
	return lb.Bytes(), pipeline, nil
}

type msg struct {
	typ  uint16
	data []byte
}

// objectHeader writes a version 1 object header holding msgs.
func (w *writer) objectHeader(msgs []msg) uint64 {
	body := &bytes.Buffer{}
	for _, m := range msgs {
		data := padded(m.data)
		put(body, m.typ, uint16(len(data)), [4]byte{})
		body.Write(data)
	}
	head := &bytes.Buffer{}
	put(head, uint8(1), uint8(0), uint16(len(msgs)), uint32(1), uint32(body.Len()), uint32(0))
	head.Write(body.Bytes())
	return w.alloc(head.Bytes())
}

func attributeMessages(attrs []Attr) ([]msg, error) {
	var out []msg
	for _, a := range attrs {
		dt, _, raw, n, err := encodeData(a.Data)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		name := append([]byte(a.Name), 0)
		ds := dataspace([]int{n})

		b := &bytes.Buffer{}
		put(b, uint8(1), uint8(0), uint16(len(name)), uint16(len(dt)), uint16(len(ds)))
		b.Write(padded(name))
		b.Write(padded(dt))
		b.Write(padded(ds))
		b.Write(raw)
		out = append(out, msg{0x0C, b.Bytes()})
	}
	return out, nil
}

// dataspace is a version 1 simple dataspace message.
func dataspace(dims []int) []byte {
	b := &bytes.Buffer{}
	put(b, uint8(1), uint8(len(dims)), uint8(0), [5]byte{})
	for _, d := range dims {
		put(b, uint64(d))
	}
	return b.Bytes()
}

// encodeData returns the datatype message, element size, little-endian
// bytes and element count of data.
func encodeData(data any) (dt []byte, size int, raw []byte, n int, err error) {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, data); err != nil {
		return nil, 0, nil, 0, err
	}

	switch v := data.(type) {
	case []float32:
		// IEEE single: sign at 31, exponent 23..30 biased by 127
		dt = pack(uint8(0x11), [3]byte{0x20, 31, 0}, uint32(4),
			uint16(0), uint16(32), uint8(23), uint8(8), uint8(0), uint8(23), uint32(127))
		return dt, 4, b.Bytes(), len(v), nil
	case []float64:
		dt = pack(uint8(0x11), [3]byte{0x20, 63, 0}, uint32(8),
			uint16(0), uint16(64), uint8(52), uint8(11), uint8(0), uint8(52), uint32(1023))
		return dt, 8, b.Bytes(), len(v), nil
	case []uint8:
		dt = pack(uint8(0x10), [3]byte{}, uint32(1), uint16(0), uint16(8))
		return dt, 1, b.Bytes(), len(v), nil
	case []uint16:
		dt = pack(uint8(0x10), [3]byte{}, uint32(2), uint16(0), uint16(16))
		return dt, 2, b.Bytes(), len(v), nil
	case []int32:
		dt = pack(uint8(0x10), [3]byte{0x08, 0, 0}, uint32(4), uint16(0), uint16(32))
		return dt, 4, b.Bytes(), len(v), nil
	}
	return nil, 0, nil, 0, fmt.Errorf("unsupported element type %T", data)
}

func shuffle(data []byte, size int) []byte {
	n := len(data) / size
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < size; j++ {
			out[j*n+i] = data[i*size+j]
		}
	}
	return out
}

func deflate(data []byte) ([]byte, error) {
	var b bytes.Buffer
	zw := zlib.NewWriter(&b)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// each calls fn for every index of shape in row-major order.
func each(shape []int, fn func(idx []int)) {
	if count(shape) == 0 {
		return
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		i := len(shape) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func count(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func padded(b []byte) []byte {
	out := make([]byte, (len(b)+7)&^7)
	copy(out, b)
	return out
}

func put(b *bytes.Buffer, values ...any) {
	for _, v := range values {
		if err := binary.Write(b, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
}

func pack(values ...any) []byte {
	b := &bytes.Buffer{}
	put(b, values...)
	return b.Bytes()
}
