package profile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fsutil"
)

// startDataMarker separates the header of PDFgetX-style .gr files from the
// numeric block.
const startDataMarker = "#### start data"

// Load reads and parses a G(r) file.
func Load(fsys fsutil.FileSystem, path string) (*Profile, error) {
	data, err := fsutil.ReadInput(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("experimental data: %v: %w", err, errs.ErrData)
	}
	p, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("experimental data %s: %w", path, err)
	}
	return p, nil
}

// Parse reads a two to four column (r, G, dr, dG) trace. Header lines of the
// form "key = value" are kept in Meta. When the start-data marker is present
// only lines after it are data; otherwise any line made entirely of numbers
// is data. Comment lines starting with '#' are skipped.
func Parse(r io.Reader) (*Profile, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	marker := -1
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, startDataMarker) {
			marker = len(lines)
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading profile: %v: %w", err, errs.ErrData)
	}

	p := &Profile{Meta: make(map[string]string)}
	columns := 0
	for i, line := range lines {
		if i <= marker || line == "" || strings.HasPrefix(line, "#") {
			if i < marker {
				parseMeta(p.Meta, line)
			}
			continue
		}
		row, ok := parseRow(line)
		if !ok {
			if marker >= 0 {
				return nil, fmt.Errorf("line %d: unparsable data row %q: %w", i+1, line, errs.ErrData)
			}
			parseMeta(p.Meta, line)
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("line %d: want at least r and G: %w", i+1, errs.ErrData)
		}
		if columns == 0 {
			columns = min(len(row), 4)
		}
		if len(row) < columns {
			return nil, fmt.Errorf("line %d: has %d columns, earlier rows have %d: %w", i+1, len(row), columns, errs.ErrData)
		}
		p.R = append(p.R, row[0])
		p.G = append(p.G, row[1])
		if columns == 3 {
			// Three columns are r, G, dG.
			p.DG = append(p.DG, row[2])
		}
		if columns == 4 {
			p.DR = append(p.DR, row[2])
			p.DG = append(p.DG, row[3])
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseRow(line string) ([]float64, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		row[i] = v
	}
	return row, true
}

func parseMeta(meta map[string]string, line string) {
	line = strings.TrimLeft(line, "# ")
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || strings.ContainsAny(key, " \t") {
		return
	}
	meta[key] = strings.TrimSpace(value)
}

// MetaFloat returns a numeric header value such as "qmax".
func (p *Profile) MetaFloat(key string) (float64, bool) {
	s, ok := p.Meta[strings.ToLower(key)]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
