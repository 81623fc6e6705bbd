// Package plotting renders fit diagnostics as PNG images with gonum/plot.
package plotting

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/nanofit/internal/fit"
	"github.com/banshee-data/nanofit/internal/fsutil"
)

var (
	observedColor = color.RGBA{B: 200, A: 255}
	fitColor      = color.RGBA{R: 220, A: 255}
	diffColor     = color.RGBA{G: 150, A: 255}
	baselineColor = color.Black
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// FitFilename returns the image name for candidate index.
func FitFilename(index int) string {
	return fmt.Sprintf("fit_%05d.png", index)
}

// FitPlot draws observed points, the fitted curve, and the difference curve
// offset to the result baseline with a dotted zero line.
func FitPlot(title string, res *fit.Result) (*plot.Plot, error) {
	if res == nil || len(res.R) == 0 {
		return nil, fmt.Errorf("no fit result to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "r (Å)"
	p.Y.Label.Text = "G (Å⁻²)"

	obs := make(plotter.XYs, len(res.R))
	calc := make(plotter.XYs, len(res.R))
	diff := make(plotter.XYs, len(res.R))
	base := plotter.XYs{{X: res.R[0], Y: res.Baseline}, {X: res.R[len(res.R)-1], Y: res.Baseline}}
	for i, r := range res.R {
		obs[i] = plotter.XY{X: r, Y: res.GObs[i]}
		calc[i] = plotter.XY{X: r, Y: res.GCalc[i]}
		diff[i] = plotter.XY{X: r, Y: res.GDiff[i] + res.Baseline}
	}

	obsPts, err := plotter.NewScatter(obs)
	if err != nil {
		return nil, err
	}
	obsPts.GlyphStyle.Color = observedColor
	obsPts.GlyphStyle.Shape = draw.RingGlyph{}
	obsPts.GlyphStyle.Radius = vg.Points(2)

	calcLine, err := plotter.NewLine(calc)
	if err != nil {
		return nil, err
	}
	calcLine.Color = fitColor
	calcLine.Width = vg.Points(1.5)

	diffLine, err := plotter.NewLine(diff)
	if err != nil {
		return nil, err
	}
	diffLine.Color = diffColor
	diffLine.Width = vg.Points(1)

	baseLine, err := plotter.NewLine(base)
	if err != nil {
		return nil, err
	}
	baseLine.Color = baselineColor
	baseLine.Width = vg.Points(0.5)
	baseLine.Dashes = []vg.Length{vg.Points(1), vg.Points(3)}

	p.Add(obsPts, calcLine, diffLine, baseLine)
	p.Legend.Add("G(r) data", obsPts)
	p.Legend.Add("G(r) fit", calcLine)
	p.Legend.Add("G(r) diff", diffLine)
	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// ScorePoint is one evaluated candidate for the score plot.
type ScorePoint struct {
	MetalCount int
	RFactor    float64
}

// ScorePlot scatters R-factor against retained metal count.
func ScorePlot(title string, points []ScorePoint) (*plot.Plot, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no scores to plot")
	}
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i] = plotter.XY{X: float64(pt.MetalCount), Y: pt.RFactor}
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Metal atoms"
	p.Y.Label.Text = "R-factor"
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Color = observedColor
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(s, plotter.NewGrid())
	return p, nil
}

// WritePNG encodes p into path on fsys, creating parent directories.
func WritePNG(fsys fsutil.FileSystem, path string, p *plot.Plot) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create plot directory: %w", err)
		}
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// WriteFit renders res for candidate index into dir and returns the path.
func WriteFit(fsys fsutil.FileSystem, dir string, index int, res *fit.Result) (string, error) {
	p, err := FitPlot(fmt.Sprintf("Candidate %d (R = %.4f)", index, res.RFactor), res)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FitFilename(index))
	if err := WritePNG(fsys, path, p); err != nil {
		return "", err
	}
	return path, nil
}
