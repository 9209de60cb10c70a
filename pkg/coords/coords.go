// Package coords writes and reads point clouds as coordinate files.
//
// Supported formats are PDB (one ATOM record per point), plain XYZ in
// three variants and GROMACS GRO. Files whose name ends in .gz are
// gzip-compressed.
package coords

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"fociscan/internal/models"
)

// Format selects the file layout.
type Format int

const (
	// PDB writes one ATOM record per point, optionally followed by CONECT
	// records
	PDB Format = iota

	// XYZ writes one point per line in the variant chosen by XYZStyle
	XYZ

	// GRO writes a GROMACS structure file with coordinates divided by ten
	GRO
)

// XYZStyle selects the XYZ variant.
type XYZStyle int

const (
	// XYZPlain writes x, y, z separated by tabs
	XYZPlain XYZStyle = iota

	// XYZIndexed prefixes every line with a 1-based index
	XYZIndexed

	// XYZChimera writes the point count and molecule name header and a
	// carbon atom per line
	XYZChimera
)

// Options controls serialization. Only the block matching Format is used.
type Options struct {
	Format Format

	PDB struct {
		// Connect adds CONECT records chaining consecutive points
		Connect bool
	}

	XYZ struct {
		Style XYZStyle

		// MoleculeName is the second header line of the Chimera variant
		MoleculeName string
	}

	GRO struct {
		// Comment is the title line
		Comment string
	}
}

// ParseFormat maps a format name to Options. Accepted names are pdb, gro,
// xyz, idxyz and chimera.
func ParseFormat(name string) (Options, error) {
	var o Options
	switch strings.ToLower(name) {
	case "pdb", "":
		o.Format = PDB
	case "gro":
		o.Format = GRO
		o.GRO.Comment = "fociscan"
	case "xyz":
		o.Format = XYZ
		o.XYZ.Style = XYZPlain
	case "idxyz":
		o.Format = XYZ
		o.XYZ.Style = XYZIndexed
	case "chimera":
		o.Format = XYZ
		o.XYZ.Style = XYZChimera
	default:
		return o, fmt.Errorf("unknown coordinate format %q", name)
	}
	return o, nil
}

// Extension returns the file extension conventionally used for o.
func (o Options) Extension() string {
	switch o.Format {
	case GRO:
		return ".gro"
	case XYZ:
		return ".xyz"
	}
	return ".pdb"
}

// Write saves points to path, gzip-compressing when path ends in .gz.
func Write(path string, points []models.Coord, opts Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(f)
		defer func() {
			if cerr := zw.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = zw
	}

	if err := Encode(w, points, opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Encode writes points to w in the selected format.
func Encode(w io.Writer, points []models.Coord, opts Options) error {
	bw := bufio.NewWriter(w)
	switch opts.Format {
	case PDB:
		encodePDB(bw, points, opts.PDB.Connect)
	case XYZ:
		encodeXYZ(bw, points, opts.XYZ.Style, opts.XYZ.MoleculeName)
	case GRO:
		encodeGRO(bw, points, opts.GRO.Comment)
	default:
		return fmt.Errorf("unknown coordinate format %d", opts.Format)
	}
	return bw.Flush()
}

func encodePDB(w *bufio.Writer, points []models.Coord, connect bool) {
	for i, p := range points {
		fmt.Fprintf(w, "%-6s%5d  %-3s%s%-3s %s%4d%s   %8.3f%8.3f%8.3f%6.2f%6.2f%12s\n",
			"ATOM", i+1, "B", " ", "BEA", "A", i+1, " ", p[0], p[1], p[2], 0.0, 0.0, "C")
	}

	n := len(points)
	if !connect || n < 2 {
		return
	}
	fmt.Fprintf(w, "CONECT%5d%5d\n", 1, 2)
	for i := 2; i < n; i++ {
		fmt.Fprintf(w, "CONECT%5d%5d%5d\n", i, i-1, i+1)
	}
	fmt.Fprintf(w, "CONECT%5d%5d\n", n, n-1)
}

func encodeXYZ(w *bufio.Writer, points []models.Coord, style XYZStyle, molecule string) {
	if style == XYZChimera {
		fmt.Fprintf(w, "%d\n%s\n", len(points), molecule)
	}
	for i, p := range points {
		x, y, z := num(p[0]), num(p[1]), num(p[2])
		switch style {
		case XYZIndexed:
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, x, y, z)
		case XYZChimera:
			fmt.Fprintf(w, "C\t%s\t%s\t%s\n", x, y, z)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\n", x, y, z)
		}
	}
}

// encodeGRO writes coordinates in nanometres, assuming input in ångström.
func encodeGRO(w *bufio.Writer, points []models.Coord, comment string) {
	fmt.Fprintf(w, "%s\n%d\n", comment, len(points))
	box := 0.0
	for i, p := range points {
		fmt.Fprintf(w, "%5d%-5s%-5s%5d%8.3f%8.3f%8.3f\n", i, "BEA", "B", i+1, p[0]/10, p[1]/10, p[2]/10)
		for _, c := range p {
			if c > box {
				box = c
			}
		}
	}
	fmt.Fprintf(w, "%5f %5f %5f", box, box, box)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadPDB parses the coordinates of ATOM and HETATM records.
func ReadPDB(r io.Reader) ([]models.Coord, error) {
	var out []models.Coord
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if !strings.HasPrefix(text, "ATOM") && !strings.HasPrefix(text, "HETATM") {
			continue
		}
		if len(text) < 54 {
			return nil, fmt.Errorf("line %d: record too short", line)
		}
		var c models.Coord
		for axis := 0; axis < 3; axis++ {
			field := strings.TrimSpace(text[30+8*axis : 38+8*axis])
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			c[axis] = v
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
