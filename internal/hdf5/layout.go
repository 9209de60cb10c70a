package hdf5

import (
	"fmt"
)

// Class is the storage layout class of a dataset.
type Class uint8

const (
	// ClassCompact keeps the data inside the object header.
	ClassCompact Class = 0

	// ClassContiguous stores the data as one block in the file.
	ClassContiguous Class = 1

	// ClassChunked splits the data into equally shaped chunks, each
	// stored and filtered on its own.
	ClassChunked Class = 2
)

func (c Class) String() string {
	switch c {
	case ClassCompact:
		return "compact"
	case ClassContiguous:
		return "contiguous"
	case ClassChunked:
		return "chunked"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Layout reads the raw bytes of a dataset in row-major order.
type Layout interface {
	Class() Class
	Read() ([]byte, error)
}

// Compact is data stored in the layout message.
type Compact struct {
	data []byte
}

func (c *Compact) Class() Class          { return ClassCompact }
func (c *Compact) Read() ([]byte, error) { return c.data, nil }

// Contiguous is data stored as one block.
type Contiguous struct {
	r    *reader
	addr uint64
	size uint64
}

func (c *Contiguous) Class() Class { return ClassContiguous }

// Read returns the block, or zeros when it was never written.
func (c *Contiguous) Read() ([]byte, error) {
	if c.r.undefined(c.addr) {
		return make([]byte, c.size), nil
	}
	return c.r.readAt(c.addr, int(c.size))
}

// Chunk index kinds.
const (
	indexBTree1 = iota
	indexSingle
	indexImplicit
)

// Chunked is data split into chunks located through an index.
type Chunked struct {
	r        *reader
	dims     []uint64
	chunk    []uint64
	elemSize int
	pipeline []filter

	index      int
	addr       uint64
	singleSize uint64
	singleMask uint32
}

func (c *Chunked) Class() Class { return ClassChunked }

type chunkRef struct {
	addr   uint64
	size   uint64
	mask   uint32
	origin []uint64
}

func (c *Chunked) chunkBytes() uint64 {
	n := uint64(c.elemSize)
	for _, d := range c.chunk {
		n *= d
	}
	return n
}

// Read assembles every stored chunk. Chunks never written read as zero.
func (c *Chunked) Read() ([]byte, error) {
	total := uint64(c.elemSize)
	for _, d := range c.dims {
		total *= d
	}
	out := make([]byte, total)
	if total == 0 || c.r.undefined(c.addr) {
		return out, nil
	}

	chunks, err := c.chunks()
	if err != nil {
		return nil, err
	}
	want := c.chunkBytes()
	for _, ch := range chunks {
		raw, err := c.r.readAt(ch.addr, int(ch.size))
		if err != nil {
			return nil, err
		}
		data, err := applyFilters(c.pipeline, ch.mask, raw, c.elemSize)
		if err != nil {
			return nil, fmt.Errorf("chunk at %v: %w", ch.origin, err)
		}
		if uint64(len(data)) < want {
			return nil, fmt.Errorf("%w: chunk at %v holds %d bytes, expected %d", errTruncated, ch.origin, len(data), want)
		}
		c.place(out, data, ch.origin)
	}
	return out, nil
}

func (c *Chunked) chunks() ([]chunkRef, error) {
	switch c.index {
	case indexSingle:
		size := c.chunkBytes()
		if len(c.pipeline) > 0 {
			size = c.singleSize
		}
		return []chunkRef{{addr: c.addr, size: size, mask: c.singleMask, origin: make([]uint64, len(c.dims))}}, nil
	case indexImplicit:
		return c.implicitChunks(), nil
	}
	var out []chunkRef
	err := c.walkChunkTree(c.addr, 0, func(ch chunkRef) {
		out = append(out, ch)
	})
	return out, err
}

// implicitChunks lists unfiltered chunks stored back to back in row-major
// chunk order.
func (c *Chunked) implicitChunks() []chunkRef {
	rank := len(c.dims)
	grid := make([]uint64, rank)
	n := uint64(1)
	for i := range grid {
		grid[i] = (c.dims[i] + c.chunk[i] - 1) / c.chunk[i]
		n *= grid[i]
	}

	size := c.chunkBytes()
	out := make([]chunkRef, 0, n)
	idx := make([]uint64, rank)
	for k := uint64(0); k < n; k++ {
		origin := make([]uint64, rank)
		for i := range origin {
			origin[i] = idx[i] * c.chunk[i]
		}
		out = append(out, chunkRef{addr: c.addr + k*size, size: size, origin: origin})
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < grid[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// walkChunkTree visits the leaves of a version 1 B-tree of raw data
// chunks. Keys hold the chunk size, filter mask and chunk origin, with an
// extra trailing zero offset for the element dimension.
func (c *Chunked) walkChunkTree(addr uint64, depth int, fn func(chunkRef)) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: chunk B-tree too deep", errTruncated)
	}
	r := c.r
	head, err := r.readAt(addr, 8)
	if err != nil {
		return err
	}
	if string(head[:4]) != "TREE" || head[4] != 1 {
		return fmt.Errorf("%w: no chunk B-tree node at %d", errTruncated, addr)
	}
	level := head[5]
	entries := int(uint16(head[6]) | uint16(head[7])<<8)

	rank := len(c.dims)
	keySize := 8 + 8*(rank+1)
	node, err := r.readAt(addr, 8+2*r.offsetSize+entries*(keySize+r.offsetSize)+keySize)
	if err != nil {
		return err
	}

	d := &decoder{b: node, off: 8 + 2*r.offsetSize, r: r}
	for i := 0; i < entries; i++ {
		ch := chunkRef{size: uint64(d.u32()), mask: d.u32(), origin: make([]uint64, rank)}
		for j := range ch.origin {
			ch.origin[j] = d.uint(8)
		}
		d.skip(8)
		ch.addr = d.addr()
		if d.err != nil {
			return d.err
		}

		if level > 0 {
			if err := c.walkChunkTree(ch.addr, depth+1, fn); err != nil {
				return err
			}
			continue
		}
		fn(ch)
	}
	return nil
}

// place copies a decoded chunk into the dataset buffer, clipping the
// parts of edge chunks that lie outside the dataset.
func (c *Chunked) place(out, chunk []byte, origin []uint64) {
	rank := len(c.dims)
	last := rank - 1
	if origin[last] >= c.dims[last] {
		return
	}
	es := uint64(c.elemSize)
	run := min(c.chunk[last], c.dims[last]-origin[last])

	idx := make([]uint64, rank)
	for {
		inside := true
		var src, dst uint64
		for i := 0; i < rank; i++ {
			g := origin[i] + idx[i]
			if g >= c.dims[i] {
				inside = false
				break
			}
			dst = dst*c.dims[i] + g
			src = src*c.chunk[i] + idx[i]
		}
		if inside {
			copy(out[dst*es:(dst+run)*es], chunk[src*es:(src+run)*es])
		}

		i := last - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < c.chunk[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

// newLayout decodes a data layout message. Versions 1 to 3 cover files
// written with the default library settings; version 4 is read for
// compact, contiguous and single or implicitly indexed chunked data.
func newLayout(b []byte, space dataspace, t datatype, pipeline []filter, r *reader) (Layout, error) {
	d := &decoder{b: b, r: r}
	version := d.u8()

	switch version {
	case 1, 2:
		return oldLayout(d, space, t, pipeline, r)
	case 3, 4:
	default:
		return nil, fmt.Errorf("%w: layout version %d", ErrUnsupported, version)
	}

	class := Class(d.u8())
	switch class {
	case ClassCompact:
		n := int(d.u16())
		data := d.bytes(n)
		return &Compact{data: data}, d.err
	case ClassContiguous:
		c := &Contiguous{r: r, addr: d.addr()}
		c.size = d.length()
		return c, d.err
	case ClassChunked:
	default:
		return nil, fmt.Errorf("%w: layout class %d", ErrUnsupported, class)
	}

	c := &Chunked{r: r, dims: space.dims, elemSize: t.size, pipeline: pipeline}
	if len(c.dims) == 0 {
		return nil, fmt.Errorf("%w: chunked scalar", ErrUnsupported)
	}
	if version == 3 {
		n := int(d.u8())
		c.addr = d.addr()
		c.chunk = make([]uint64, n)
		for i := range c.chunk {
			c.chunk[i] = uint64(d.u32())
		}
	} else {
		flags := d.u8()
		n := int(d.u8())
		width := int(d.u8())
		c.chunk = make([]uint64, n)
		for i := range c.chunk {
			c.chunk[i] = d.uint(width)
		}
		switch kind := d.u8(); kind {
		case 1:
			c.index = indexSingle
			if flags&0x02 != 0 {
				c.singleSize = d.length()
				c.singleMask = d.u32()
			}
		case 2:
			c.index = indexImplicit
		default:
			return nil, fmt.Errorf("%w: chunk index type %d", ErrUnsupported, kind)
		}
		c.addr = d.addr()
	}
	if d.err != nil {
		return nil, d.err
	}
	return c.trim()
}

// trim drops the trailing element size dimension of chunk shapes.
func (c *Chunked) trim() (*Chunked, error) {
	if len(c.chunk) != len(c.dims)+1 {
		return nil, fmt.Errorf("%w: chunk rank %d for dataset rank %d", errTruncated, len(c.chunk)-1, len(c.dims))
	}
	c.chunk = c.chunk[:len(c.dims)]
	for _, n := range c.chunk {
		if n == 0 {
			return nil, fmt.Errorf("%w: zero chunk dimension", errTruncated)
		}
	}
	return c, nil
}

// oldLayout decodes layout versions 1 and 2, which store dimensions for
// every class.
func oldLayout(d *decoder, space dataspace, t datatype, pipeline []filter, r *reader) (Layout, error) {
	n := int(d.u8())
	class := Class(d.u8())
	d.skip(5)

	var addr uint64
	if class != ClassCompact {
		addr = d.addr()
	}
	dims := make([]uint64, n)
	for i := range dims {
		dims[i] = uint64(d.u32())
	}

	switch class {
	case ClassCompact:
		size := int(d.u32())
		data := d.bytes(size)
		return &Compact{data: data}, d.err
	case ClassContiguous:
		return &Contiguous{r: r, addr: addr, size: space.count() * uint64(t.size)}, d.err
	case ClassChunked:
		if d.err != nil {
			return nil, d.err
		}
		c := &Chunked{r: r, dims: space.dims, elemSize: t.size, pipeline: pipeline, addr: addr, chunk: dims}
		return c.trim()
	}
	return nil, fmt.Errorf("%w: layout class %d", ErrUnsupported, class)
}
