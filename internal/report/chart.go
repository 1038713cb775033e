package report

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const paletteSize = 64

// ColorSchemes is the fixed list a report draws its heatmap scheme from.
var ColorSchemes = []string{
	"heat",
	"rainbow",
	"smooth-blue-red",
	"smooth-blue-tan",
	"smooth-green-purple",
	"smooth-green-red",
	"smooth-purple-orange",
	"kindlmann",
	"extended-kindlmann",
	"black-body",
	"extended-black-body",
}

func schemePalette(name string) (palette.Palette, error) {
	var cm palette.ColorMap
	switch name {
	case "heat":
		return palette.Heat(paletteSize, 1), nil
	case "rainbow":
		return palette.Rainbow(paletteSize, palette.Blue, palette.Red, 1, 1, 1), nil
	case "smooth-blue-red":
		cm = moreland.SmoothBlueRed()
	case "smooth-blue-tan":
		cm = moreland.SmoothBlueTan()
	case "smooth-green-purple":
		cm = moreland.SmoothGreenPurple()
	case "smooth-green-red":
		cm = moreland.SmoothGreenRed()
	case "smooth-purple-orange":
		cm = moreland.SmoothPurpleOrange()
	case "kindlmann":
		cm = moreland.Kindlmann()
	case "extended-kindlmann":
		cm = moreland.ExtendedKindlmann()
	case "black-body":
		cm = moreland.BlackBody()
	case "extended-black-body":
		cm = moreland.ExtendedBlackBody()
	default:
		return nil, fmt.Errorf("unknown color scheme %q", name)
	}
	cm.SetMin(0)
	cm.SetMax(1)
	return cm.Palette(paletteSize), nil
}

// corrGrid adapts a square matrix to plotter.GridXYZ. Row 0 is drawn on top.
type corrGrid struct {
	m [][]float64
}

func (g corrGrid) Dims() (c, r int) { return len(g.m), len(g.m) }

func (g corrGrid) Z(c, r int) float64 {
	v := g.m[len(g.m)-1-r][c]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func (g corrGrid) X(c int) float64 { return float64(c) }
func (g corrGrid) Y(r int) float64 { return float64(r) }

// SaveHeatmap renders an annotated correlation heatmap to a PNG file.
func SaveHeatmap(path string, names []string, m [][]float64, scheme string) error {
	pal, err := schemePalette(scheme)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Correlation"

	hm := plotter.NewHeatMap(corrGrid{m: m}, pal)
	hm.Min, hm.Max = -1, 1
	p.Add(hm)

	n := len(names)
	var (
		xys    plotter.XYs
		labels []string
		xticks []plot.Tick
		yticks []plot.Tick
	)
	for i, name := range names {
		xticks = append(xticks, plot.Tick{Value: float64(i), Label: name})
		yticks = append(yticks, plot.Tick{Value: float64(n - 1 - i), Label: name})
		for j := range names {
			xys = append(xys, plotter.XY{X: float64(j), Y: float64(n - 1 - i)})
			if math.IsNaN(m[i][j]) {
				labels = append(labels, "nan")
			} else {
				labels = append(labels, strconv.FormatFloat(m[i][j], 'f', 2, 64))
			}
		}
	}

	annotations, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return fmt.Errorf("heatmap labels: %w", err)
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].XAlign = -0.5
		annotations.TextStyle[i].YAlign = -0.5
	}
	p.Add(annotations)

	p.X.Tick.Marker = plot.ConstantTicks(xticks)
	p.Y.Tick.Marker = plot.ConstantTicks(yticks)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = -1

	if err := p.Save(9*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save heatmap: %w", err)
	}
	return nil
}

// SavePredictionPlot renders sorted true values against predictions with a
// y=x reference line.
func SavePredictionPlot(path string, truth, pred []float64, model string) error {
	order := make([]int, len(truth))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return truth[order[a]] < truth[order[b]] })

	points := make(plotter.XYs, len(order))
	diagonal := make(plotter.XYs, len(order))
	for i, idx := range order {
		points[i] = plotter.XY{X: truth[idx], Y: pred[idx]}
		diagonal[i] = plotter.XY{X: truth[idx], Y: truth[idx]}
	}

	p := plot.New()
	p.X.Label.Text = "Истинные значения"
	p.Y.Label.Text = "Предсказанные значения"

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return fmt.Errorf("prediction scatter: %w", err)
	}
	line, err := plotter.NewLine(diagonal)
	if err != nil {
		return fmt.Errorf("prediction line: %w", err)
	}
	line.Color = color.RGBA{R: 255, A: 255}

	p.Add(scatter, line)
	p.Legend.Add(model, scatter)
	p.Legend.Add("True values", line)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save prediction plot: %w", err)
	}
	return nil
}
