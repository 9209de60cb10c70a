// Package hdf5 reads numeric datasets and attributes from HDF5 files
// without cgo.
//
// It covers the subset volume maps written by h5py and PyTables use:
// superblock versions 0 to 3, version 1 and 2 object headers, groups
// stored as symbol tables or compact links, integer and floating point
// datatypes, and compact, contiguous or chunked storage with the deflate,
// shuffle and fletcher32 filters. Anything else fails with ErrUnsupported.
package hdf5

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrNotHDF5 is returned when no superblock signature is found.
	ErrNotHDF5 = errors.New("not an HDF5 file")

	// ErrNotFound is returned for a missing group, dataset or attribute.
	ErrNotFound = errors.New("object not found")

	// ErrUnsupported is returned for valid HDF5 features this package
	// does not decode.
	ErrUnsupported = errors.New("unsupported HDF5 feature")

	errTruncated = errors.New("truncated HDF5 structure")
)

var signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// File is an open HDF5 file.
type File struct {
	f    *os.File
	r    *reader
	root uint64
}

// Open opens path and reads its superblock.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	file, err := newFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	file.f = f
	return file, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	return f.f.Close()
}

// newFile locates the superblock, which sits at 0 or at a power of two
// from 512 on when the file has a user block.
func newFile(ra io.ReaderAt, size int64) (*File, error) {
	sig := make([]byte, len(signature))
	for off := int64(0); off+int64(len(signature)) <= size; off = nextSuperblockOffset(off) {
		if _, err := ra.ReadAt(sig, off); err != nil {
			return nil, err
		}
		if bytes.Equal(sig, signature) {
			return parseSuperblock(ra, off, size)
		}
	}
	return nil, ErrNotHDF5
}

func nextSuperblockOffset(off int64) int64 {
	if off == 0 {
		return 512
	}
	return off * 2
}

func parseSuperblock(ra io.ReaderAt, off, size int64) (*File, error) {
	buf := make([]byte, min(256, size-off))
	if _, err := ra.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	if len(buf) < 16 {
		return nil, errTruncated
	}

	version := buf[8]
	r := &reader{ra: ra, size: size}
	d := &decoder{b: buf, r: r}

	var root uint64
	switch version {
	case 0, 1:
		r.offsetSize, r.lengthSize = int(buf[13]), int(buf[14])
		if err := r.checkSizes(); err != nil {
			return nil, err
		}
		d.off = 24
		if version == 1 {
			d.skip(4)
		}
		r.base = d.addr()
		d.skip(r.offsetSize) // free-space info
		d.skip(r.offsetSize) // end of file
		d.skip(r.offsetSize) // driver info
		// root group symbol table entry
		d.skip(r.offsetSize)
		root = d.addr()
	case 2, 3:
		r.offsetSize, r.lengthSize = int(buf[9]), int(buf[10])
		if err := r.checkSizes(); err != nil {
			return nil, err
		}
		d.off = 12
		r.base = d.addr()
		d.skip(r.offsetSize) // superblock extension
		d.skip(r.offsetSize) // end of file
		root = d.addr()
	default:
		return nil, fmt.Errorf("%w: superblock version %d", ErrUnsupported, version)
	}
	if d.err != nil {
		return nil, d.err
	}
	return &File{r: r, root: root}, nil
}

// lookup follows a slash separated path from the root group.
func (f *File) lookup(path string) (*object, error) {
	obj, err := f.r.object(f.root)
	if err != nil {
		return nil, err
	}
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		addr, err := f.r.child(obj, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if obj, err = f.r.object(addr); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return obj, nil
}

// Dataset is a numeric array stored in the file.
type Dataset struct {
	// Dims is the array shape, slowest varying axis first.
	Dims []uint64

	r        *reader
	space    dataspace
	dtype    datatype
	layout   []byte
	pipeline []filter
}

// Dataset opens the dataset at path.
func (f *File) Dataset(path string) (*Dataset, error) {
	obj, err := f.lookup(path)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{r: f.r}
	var haveSpace, haveType bool
	for _, m := range obj.msgs {
		switch m.typ {
		case msgDataspace:
			if ds.space, err = parseDataspace(m, f.r); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			haveSpace = true
		case msgDatatype:
			if ds.dtype, err = parseDatatype(m); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			haveType = true
		case msgLayout:
			ds.layout = m.data
		case msgFilterPipeline:
			if ds.pipeline, err = parseFilterPipeline(m.data); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if !haveSpace || !haveType || ds.layout == nil {
		return nil, fmt.Errorf("%w: %s is not a dataset", ErrNotFound, path)
	}
	ds.Dims = ds.space.dims
	return ds, nil
}

// Layout returns the storage layout of the dataset.
func (d *Dataset) Layout() (Layout, error) {
	return newLayout(d.layout, d.space, d.dtype, d.pipeline, d.r)
}

// ReadFloat64 reads the whole dataset in row-major order.
func (d *Dataset) ReadFloat64() ([]float64, error) {
	l, err := d.Layout()
	if err != nil {
		return nil, err
	}
	data, err := l.Read()
	if err != nil {
		return nil, err
	}

	n := d.space.count()
	if uint64(len(data)) < n*uint64(d.dtype.size) {
		return nil, fmt.Errorf("%w: dataset holds %d bytes, expected %d", errTruncated, len(data), n*uint64(d.dtype.size))
	}
	out := make([]float64, n)
	d.dtype.decode(data, out)
	return out, nil
}

// Attribute reads the numeric attribute name of the object at path.
func (f *File) Attribute(path, name string) ([]float64, error) {
	obj, err := f.lookup(path)
	if err != nil {
		return nil, err
	}
	values, err := f.r.attribute(obj, name)
	if err != nil {
		return nil, fmt.Errorf("%s@%s: %w", path, name, err)
	}
	return values, nil
}
