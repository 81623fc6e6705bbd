package structure

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fsutil"
)

// ReadXYZ loads an XYZ file and splits it at metalCount. Any failure to read
// or parse the file is reported as a data error.
func ReadXYZ(fsys fsutil.FileSystem, path string, metalCount int) (*Parent, error) {
	data, err := fsutil.ReadInput(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("structure: %v: %w", err, errs.ErrData)
	}
	atoms, err := ParseXYZ(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("structure %s: %w", path, err)
	}
	return NewParent(atoms, metalCount)
}

// ParseXYZ reads the first frame of an XYZ stream: an atom count line, a
// comment line, then one "Element x y z" row per atom. Extra columns are
// ignored. Element labels are normalised to title case ("GA" -> "Ga").
func ParseXYZ(r io.Reader) ([]Atom, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("missing atom count line: %w", errs.ErrData)
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid atom count %q: %w", sc.Text(), errs.ErrData)
	}
	if !sc.Scan() {
		return nil, fmt.Errorf("missing comment line: %w", errs.ErrData)
	}

	atoms := make([]Atom, 0, n)
	line := 2
	for len(atoms) < n && sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: want element and 3 coordinates, got %q: %w", line, sc.Text(), errs.ErrData)
		}
		var xyz [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid coordinate %q: %w", line, fields[i+1], errs.ErrData)
			}
			xyz[i] = v
		}
		atoms = append(atoms, Atom{
			Element: normaliseElement(fields[0]),
			Pos:     r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading xyz: %v: %w", err, errs.ErrData)
	}
	if len(atoms) != n {
		return nil, fmt.Errorf("header declares %d atoms, found %d: %w", n, len(atoms), errs.ErrData)
	}
	return atoms, nil
}

// WriteXYZ writes atoms in XYZ format with the given comment line.
func WriteXYZ(w io.Writer, comment string, atoms []Atom) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n%s\n", len(atoms), strings.ReplaceAll(comment, "\n", " "))
	for _, a := range atoms {
		fmt.Fprintf(bw, "%-3s %12.6f %12.6f %12.6f\n", a.Element, a.Pos.X, a.Pos.Y, a.Pos.Z)
	}
	return bw.Flush()
}

// normaliseElement strips charge/site suffixes ("Ga1", "O2-") and title-cases
// the symbol.
func normaliseElement(s string) string {
	end := 0
	for end < len(s) && unicode.IsLetter(rune(s[end])) {
		end++
	}
	if end == 0 {
		return s
	}
	sym := s[:end]
	return strings.ToUpper(sym[:1]) + strings.ToLower(sym[1:])
}
