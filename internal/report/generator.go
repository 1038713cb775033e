package report

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	Features = []string{"work_year", "experience_level", "employment_type"}
	Target   = "salary_in_usd"
)

const (
	minTestPercent = 10
	maxTestPercent = 35
	maxSeed        = 150
)

// Params are the randomly drawn knobs of one report.
type Params struct {
	Percent int
	Seed    int64
	Scheme  string
}

func (p Params) Fraction() float64 { return float64(p.Percent) / 100 }

// DrawParams picks a test share in [10, 35] percent, a seed in [0, 150] and a
// colour scheme.
func DrawParams() Params {
	return Params{
		Percent: minTestPercent + rand.IntN(maxTestPercent-minTestPercent+1),
		Seed:    rand.Int64N(maxSeed + 1),
		Scheme:  ColorSchemes[rand.IntN(len(ColorSchemes))],
	}
}

type Generator struct {
	TemplatePath string
	DatasetPath  string
	OutputDir    string

	logger *zap.SugaredLogger
}

func NewGenerator(templatePath, datasetPath, outputDir string, logger *zap.SugaredLogger) *Generator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	return &Generator{
		TemplatePath: templatePath,
		DatasetPath:  datasetPath,
		OutputDir:    outputDir,
		logger:       logger,
	}
}

// Generate renders a report with freshly drawn parameters and returns the
// path of the new .docx file. The caller owns the file.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	return g.GenerateWith(ctx, DrawParams())
}

func (g *Generator) GenerateWith(ctx context.Context, p Params) (string, error) {
	start := time.Now()

	doc, err := OpenDocument(g.TemplatePath)
	if err != nil {
		return "", err
	}

	doc.ReplaceText("{{PROCENT}}", strconv.Itoa(p.Percent))
	doc.ReplaceText("{{RANDOM_STATE}}", strconv.FormatInt(p.Seed, 10))
	doc.ReplaceText("{{COLOR}}", p.Scheme)

	frame, err := LoadDataset(g.DatasetPath)
	if err != nil {
		return "", err
	}

	names, corr := CorrelationMatrix(frame)
	if err := g.embed(doc, "{{IMAGE1}}", func(path string) error {
		return SaveHeatmap(path, names, corr, p.Scheme)
	}); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	split, err := TrainTestSplit(frame.Len(), p.Fraction(), p.Seed)
	if err != nil {
		return "", err
	}
	xTrain, yTrain, err := Design(frame, Features, Target, split.Train)
	if err != nil {
		return "", err
	}
	xTest, yTest, err := Design(frame, Features, Target, split.Test)
	if err != nil {
		return "", err
	}

	doc.ReplaceText("{{LEANING}}", strconv.Itoa(len(xTrain)))
	doc.ReplaceText("{{TEST}}", strconv.Itoa(len(xTest)))

	linear := &LinearRegression{}
	if err := linear.Fit(xTrain, yTrain); err != nil {
		return "", err
	}
	pred := linear.Predict(xTest)
	doc.ReplaceText("{{ROOT_MEAN1}}", "Root Mean Squared Error (RMSE): "+formatFloat(RMSE(yTest, pred)))
	doc.ReplaceText("{{R1}}", "R2: "+formatFloat(Round(R2(yTest, pred), 2)))
	if err := g.embed(doc, "{{IMAGE2}}", func(path string) error {
		return SavePredictionPlot(path, yTest, pred, "Linear Regression")
	}); err != nil {
		return "", err
	}

	knn := NewKNNRegressor()
	if err := knn.Fit(xTrain, yTrain); err != nil {
		return "", err
	}
	pred = knn.Predict(xTest)
	doc.ReplaceText("{{ROOT_MEAN2}}", "Root Mean Squared Error (RMSE): "+formatFloat(Round(RMSE(yTest, pred), 2)))
	doc.ReplaceText("{{R2}}", "R2: "+formatFloat(Round(R2(yTest, pred), 2)))
	if err := g.embed(doc, "{{IMAGE3}}", func(path string) error {
		return SavePredictionPlot(path, yTest, pred, "kNN")
	}); err != nil {
		return "", err
	}

	out := filepath.Join(g.OutputDir, uuid.NewString()+".docx")
	if err := doc.Save(out); err != nil {
		return "", err
	}

	metrics.ReportsGenerated.Inc()
	metrics.GenerationSeconds.Observe(time.Since(start).Seconds())
	g.logger.Infow("report generated",
		"path", out,
		"percent", p.Percent,
		"seed", p.Seed,
		"scheme", p.Scheme,
		"train", len(xTrain),
		"test", len(xTest),
	)
	return out, nil
}

// embed renders a chart into a temporary PNG, places it at placeholder and
// removes the PNG whatever happens.
func (g *Generator) embed(doc *Document, placeholder string, render func(path string) error) error {
	tmp := filepath.Join(g.OutputDir, uuid.NewString()+".png")
	defer os.Remove(tmp)

	if err := render(tmp); err != nil {
		return err
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return fmt.Errorf("read chart: %w", err)
	}
	if _, err := doc.ReplaceWithImage(placeholder, data); err != nil {
		return fmt.Errorf("embed %s: %w", placeholder, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
