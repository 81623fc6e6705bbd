// Package crystalmaker writes CrystalMaker text (.cmtx) models in which
// each metal site is coloured by its contribution to the fit.
package crystalmaker

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"

	"gonum.org/v1/plot/palette/moreland"

	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fsutil"
	"github.com/banshee-data/nanofit/internal/structure"
)

// DefaultFilename is the conventional output name.
const DefaultFilename = "CrystalMaker_nanofit.cmtx"

const (
	metalRadius    = 1.32
	nonMetalRadius = 0.66
)

var (
	nonMetalColor = color.RGBA{R: 255, A: 255}
	unknownColor  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// Model is a parent structure annotated with per-site contributions.
type Model struct {
	Parent *structure.Parent
	// Contributions holds one value per metal site; NaN sites are grey.
	Contributions []float64
	// Threshold is the maximum bond length drawn between a metal and any
	// other element.
	Threshold float64
}

// Write encodes m in CrystalMaker molecule format.
func Write(w io.Writer, m Model) error {
	if m.Parent == nil {
		return fmt.Errorf("no parent structure: %w", errs.ErrConfiguration)
	}
	if len(m.Contributions) != m.Parent.MetalCount {
		return fmt.Errorf("%d contributions for %d metal sites: %w",
			len(m.Contributions), m.Parent.MetalCount, errs.ErrLengthMismatch)
	}
	colorOf, err := contributionColors(m.Contributions)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "MOLE  CrystalMaker molecule format\n")
	fmt.Fprint(bw, "TITL  Molecule\n\n")
	fmt.Fprint(bw, "! Model type\n")
	fmt.Fprint(bw, "MODL  1\n\n")
	fmt.Fprint(bw, "! Depth fading settings\n")
	fmt.Fprint(bw, "DCUE  1.000000 0.212899 0.704686\n\n")

	fmt.Fprint(bw, "! Colour definitions:\n")
	fmt.Fprint(bw, "TYPE\n")
	for i, a := range m.Parent.Atoms {
		radius, c := nonMetalRadius, color.Color(nonMetalColor)
		if i < m.Parent.MetalCount {
			radius, c = metalRadius, colorOf(i)
		}
		r, g, b := unitRGB(c)
		fmt.Fprintf(bw, "%s%d %.2f %.6f %.6f %.6f\n", a.Element, i+1, radius, r, g, b)
	}

	fmt.Fprint(bw, "\n! Bond specifications\n")
	elements := m.Parent.Elements()
	done := make(map[[2]string]bool)
	for _, metal := range m.Parent.Metals() {
		for _, other := range elements {
			key := [2]string{metal.Element, other}
			if other == metal.Element || done[key] {
				continue
			}
			done[key] = true
			fmt.Fprintf(bw, "BMAX %s %s  %.6f\n", metal.Element, other, m.Threshold)
		}
	}

	fmt.Fprint(bw, "\n! Atoms list\n")
	fmt.Fprint(bw, "ATOM\n")
	for i, a := range m.Parent.Atoms {
		fmt.Fprintf(bw, "%s %s %d %.6f %.6f %.6f\n", a.Element, a.Element, i+1, a.Pos.X, a.Pos.Y, a.Pos.Z)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write CrystalMaker model: %w", err)
	}
	return nil
}

// WriteFile writes m to path on fsys.
func WriteFile(fsys fsutil.FileSystem, path string, m Model) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// contributionColors maps each metal site onto the smooth blue-red
// diverging map spanning the finite contributions.
func contributionColors(values []float64) (func(int) color.Color, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return func(int) color.Color { return unknownColor }, nil
	}
	if hi <= lo {
		hi = lo + 1
	}
	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(lo)
	cmap.SetMax(hi)
	cmap.SetAlpha(1)

	colors := make([]color.Color, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			colors[i] = unknownColor
			continue
		}
		c, err := cmap.At(v)
		if err != nil {
			return nil, fmt.Errorf("failed to map contribution %v: %w", v, err)
		}
		colors[i] = c
	}
	return func(i int) color.Color { return colors[i] }, nil
}

// unitRGB returns the colour channels scaled to [0, 1].
func unitRGB(c color.Color) (r, g, b float64) {
	cr, cg, cb, _ := c.RGBA()
	return float64(cr) / 0xffff, float64(cg) / 0xffff, float64(cb) / 0xffff
}
