package imageio

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/tiff"

	"fociscan/internal/models"
)

// maxTIFFPages bounds the directory chain of corrupt files.
const maxTIFFPages = 1 << 16

// loadTIFFStack reads every page of a TIFF file as one z-plane, in file
// order. All pages must have the same size.
func loadTIFFStack(path string) (*raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	order, pages, err := tiffPages(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	var out *raw
	for z, ifd := range pages {
		img, err := decodeTIFFPage(f, info.Size(), order, ifd)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s page %d: %w", path, z, err)
		}
		plane, w, h := imageValues(img)

		if out == nil {
			out = &raw{shape: models.Shape{Width: w, Height: h, Depth: len(pages)}}
			out.data = make([]float64, out.shape.Len())
		} else if w != out.shape.Width || h != out.shape.Height {
			return nil, fmt.Errorf("%s page %d is %dx%d, expected %dx%d", path, z, w, h, out.shape.Width, out.shape.Height)
		}
		copy(out.data[z*w*h:(z+1)*w*h], plane)
	}
	return out, nil
}

// tiffPages returns the byte order and the offset of every image file
// directory, following the chain that starts in the header.
func tiffPages(ra io.ReaderAt, size int64) (binary.ByteOrder, []uint32, error) {
	head := make([]byte, 8)
	if _, err := ra.ReadAt(head, 0); err != nil {
		return nil, nil, fmt.Errorf("tiff header: %w", err)
	}

	var order binary.ByteOrder
	switch string(head[:4]) {
	case "II\x2A\x00":
		order = binary.LittleEndian
	case "MM\x00\x2A":
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: malformed tiff header", ErrUnsupportedFormat)
	}

	var pages []uint32
	seen := make(map[uint32]bool)
	buf := make([]byte, 4)
	for off := order.Uint32(head[4:]); off != 0; {
		if seen[off] || len(pages) == maxTIFFPages {
			return nil, nil, fmt.Errorf("tiff directory chain loops at %d", off)
		}
		seen[off] = true
		pages = append(pages, off)

		if _, err := ra.ReadAt(buf[:2], int64(off)); err != nil {
			return nil, nil, fmt.Errorf("tiff directory at %d: %w", off, err)
		}
		next := int64(off) + 2 + 12*int64(order.Uint16(buf))
		if next+4 > size {
			return nil, nil, fmt.Errorf("tiff directory at %d runs past the end of the file", off)
		}
		if _, err := ra.ReadAt(buf, next); err != nil {
			return nil, nil, fmt.Errorf("tiff directory at %d: %w", off, err)
		}
		off = order.Uint32(buf)
	}
	if len(pages) == 0 {
		return nil, nil, fmt.Errorf("tiff file has no images")
	}
	return order, pages, nil
}

// decodeTIFFPage decodes the page whose directory starts at ifd by
// presenting the file with that directory as the first one.
func decodeTIFFPage(ra io.ReaderAt, size int64, order binary.ByteOrder, ifd uint32) (image.Image, error) {
	p := &pageReader{ra: ra}
	if order == binary.LittleEndian {
		copy(p.header[:4], "II\x2A\x00")
	} else {
		copy(p.header[:4], "MM\x00\x2A")
	}
	order.PutUint32(p.header[4:], ifd)
	return tiff.Decode(io.NewSectionReader(p, 0, size))
}

// pageReader overlays a rewritten 8 byte header on a TIFF file.
type pageReader struct {
	ra     io.ReaderAt
	header [8]byte
}

func (p *pageReader) ReadAt(b []byte, off int64) (int, error) {
	n, err := p.ra.ReadAt(b, off)
	if off < int64(len(p.header)) {
		copy(b[:n], p.header[off:])
	}
	return n, err
}
