package local

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/telemetry"
)

// PlotFileName is the history plot of one fold.
func PlotFileName(fold int) string {
	return fmt.Sprintf("history_fold%d.png", fold)
}

// SaveHistoryPlot draws the loss curves and the accuracy curves of one fold
// side by side and writes them as PNG.
func SaveHistoryPlot(path string, fold int, records []telemetry.EpochRecord) error {
	if len(records) == 0 {
		return errors.Wrapf(errors.ErrEmptyData, "history plot for fold %d", fold)
	}

	// plotter rejects NaN and Inf, so such epochs leave a gap in the curve.
	var trainLoss, valLoss, trainAcc, valAcc plotter.XYs
	for _, r := range records {
		x := float64(r.Epoch)
		trainLoss = appendFinite(trainLoss, x, r.TrainLoss)
		valLoss = appendFinite(valLoss, x, r.ValLoss)
		trainAcc = appendFinite(trainAcc, x, r.TrainAcc)
		valAcc = appendFinite(valAcc, x, r.ValAcc)
	}

	lossPlot := plot.New()
	lossPlot.Title.Text = fmt.Sprintf("Fold %d loss", fold)
	lossPlot.X.Label.Text = "Epoch"
	lossPlot.Y.Label.Text = "Loss"
	if err := plotutil.AddLinePoints(lossPlot, "Train", trainLoss, "Validation", valLoss); err != nil {
		return errors.Wrap(err, "add loss curves")
	}

	accPlot := plot.New()
	accPlot.Title.Text = fmt.Sprintf("Fold %d accuracy", fold)
	accPlot.X.Label.Text = "Epoch"
	accPlot.Y.Label.Text = "Accuracy (%)"
	if err := plotutil.AddLinePoints(accPlot, "Train", trainAcc, "Validation", valAcc); err != nil {
		return errors.Wrap(err, "add accuracy curves")
	}

	img := vgimg.New(12*vg.Inch, 4*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter, PadY: vg.Millimeter, PadTop: vg.Millimeter, PadBottom: vg.Millimeter, PadLeft: vg.Millimeter, PadRight: vg.Millimeter}
	canvases := plot.Align([][]*plot.Plot{{lossPlot, accPlot}}, tiles, dc)
	lossPlot.Draw(canvases[0][0])
	accPlot.Draw(canvases[0][1])

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func appendFinite(xys plotter.XYs, x, y float64) plotter.XYs {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return xys
	}
	return append(xys, plotter.XY{X: x, Y: y})
}
