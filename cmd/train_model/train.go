package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"healthai/db"
	"healthai/ml"
)

// sampleTopK is the number of features shown for the sample explanation.
const sampleTopK = 3

// maxIssuesShown caps the rejected rows listed after cleaning.
const maxIssuesShown = 5

type trainOptions struct {
	data       string
	outDir     string
	trees      int
	maxDepth   int
	seed       int64
	testRatio  float64
	classifier string
	background int
	dbPath     string
	clean      bool
	dedupe     bool
}

// target is one model trained from one label column.
type target struct {
	name     string
	title    string
	column   string
	balanced bool
}

var targets = []target{
	{name: "readmission", title: "Readmission", column: "Readmission", balanced: true},
	{name: "severity", title: "Severity", column: "Severity"},
}

type trainedModel struct {
	target   target
	pipeline *ml.Pipeline
	testX    [][]float64
	log      db.TrainingLog
}

func newTrainCommand() *cobra.Command {
	opts := trainOptions{}
	cmd := &cobra.Command{
		Use:   "train_model",
		Short: "Train the readmission and severity models",
		Long: `Train the readmission and severity models from a patient CSV.

The CSV needs the columns Age, Sodium, Creatinine, Urea, Readmission and
Severity. Both pipelines are evaluated on a stratified hold-out split and
written to the output directory, where the API server loads them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	defaults := ml.DefaultForestParams()
	cmd.Flags().StringVar(&opts.data, "data", "patients_dataset.csv", "Training dataset (CSV)")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "models", "Directory the model artifacts are written to")
	cmd.Flags().IntVar(&opts.trees, "trees", defaults.NEstimators, "Number of trees in each forest")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "Maximum tree depth (0 grows until leaves are pure)")
	cmd.Flags().Int64Var(&opts.seed, "seed", defaults.Seed, "Random seed for the split and the forests")
	cmd.Flags().Float64Var(&opts.testRatio, "test-ratio", 0.2, "Share of rows held out for evaluation")
	cmd.Flags().StringVar(&opts.classifier, "classifier", ml.KindRandomForest, "Classifier: random_forest or logistic")
	cmd.Flags().IntVar(&opts.background, "background", ml.DefaultTrainOptions().BackgroundSize, "Training rows kept for the sampling explainer")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Append evaluation results to this SQLite database")
	cmd.Flags().BoolVar(&opts.clean, "clean", true, "Drop rows with non-finite or implausible feature values")
	cmd.Flags().BoolVar(&opts.dedupe, "dedupe", false, "Also drop repeated feature rows (needs --clean)")

	return cmd
}

func (o trainOptions) pipelineOptions(t target) (ml.TrainOptions, error) {
	topts := ml.DefaultTrainOptions()
	switch o.classifier {
	case ml.KindRandomForest:
		topts.Kind = ml.KindRandomForest
	case "logistic", ml.KindLogistic:
		topts.Kind = ml.KindLogistic
	default:
		return topts, fmt.Errorf("unknown classifier %q", o.classifier)
	}
	topts.Forest.NEstimators = o.trees
	topts.Forest.MaxDepth = o.maxDepth
	topts.Forest.Seed = o.seed
	topts.Forest.BalancedClassWeight = t.balanced
	topts.Logistic.BalancedClassWeight = t.balanced
	topts.BackgroundSize = o.background
	topts.Explain.Seed = o.seed
	return topts, nil
}

func runTrain(ctx context.Context, out io.Writer, opts trainOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p := message.NewPrinter(language.English)

	ds, err := ml.LoadDataset(opts.data, targets[0].column, targets[1].column)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	if opts.clean {
		if ds, err = cleanDataset(p, out, ds, opts.dedupe); err != nil {
			return err
		}
	}

	var store *db.Store
	if opts.dbPath != "" {
		store, err = db.Open(opts.dbPath)
		if err != nil {
			return fmt.Errorf("opening training log: %w", err)
		}
		defer store.Close()
	}

	trained := make([]trainedModel, 0, len(targets))
	for _, t := range targets {
		model, err := trainTarget(ctx, p, out, opts, ds, t)
		if err != nil {
			return err
		}
		if store != nil {
			if err := store.SaveTrainingLog(ctx, model.log); err != nil {
				return fmt.Errorf("writing training log: %w", err)
			}
		}
		trained = append(trained, model)
	}

	for _, model := range trained {
		if err := explainSample(p, out, model); err != nil {
			return err
		}
	}
	return nil
}

func cleanDataset(p *message.Printer, out io.Writer, ds *ml.Dataset, dedupe bool) (*ml.Dataset, error) {
	cleaner := ml.NewDataCleaner()
	if dedupe {
		cleaner.AddRule(ml.NewDuplicateDetectionRule())
	}
	cleaned, issues := cleaner.Clean(ds)
	stats := cleaner.GetStats()
	if stats.Rejected > 0 {
		p.Fprintf(out, "Dropped %d of %d rows (%s)\n", stats.Rejected, stats.TotalProcessed, stats.Summary())
		for _, issue := range issues[:min(len(issues), maxIssuesShown)] {
			p.Fprintf(out, "  %s\n", issue)
		}
	}
	if len(cleaned.Features) == 0 {
		return nil, fmt.Errorf("no rows left after cleaning")
	}
	return cleaned, nil
}

func trainTarget(ctx context.Context, p *message.Printer, out io.Writer, opts trainOptions, ds *ml.Dataset, t target) (trainedModel, error) {
	topts, err := opts.pipelineOptions(t)
	if err != nil {
		return trainedModel{}, err
	}
	labels := ds.Targets[t.column]
	trainX, trainY, testX, testY := ml.StratifiedSplit(ds.Features, labels, opts.testRatio, opts.seed)
	if len(trainX) == 0 || len(testX) == 0 {
		return trainedModel{}, fmt.Errorf("%s: dataset too small to split", t.name)
	}

	p.Fprintf(out, "\nTraining %s ...\n", t.title)
	pipeline, err := ml.TrainPipeline(ctx, t.name, trainX, trainY, topts)
	if err != nil {
		return trainedModel{}, err
	}

	predicted := make([]string, len(testX))
	var positive []float64
	binary := len(pipeline.Classes) == 2
	for i, x := range testX {
		pred, err := pipeline.Predict(x)
		if err != nil {
			return trainedModel{}, err
		}
		predicted[i] = pred.Label
		if binary {
			positive = append(positive, pred.Probabilities[1])
		}
	}

	report := ml.NewClassificationReport(testY, predicted, pipeline.Classes)
	p.Fprintf(out, "%s Accuracy on test set: %.4f\n", t.title, report.Accuracy)
	log := db.TrainingLog{
		ModelName:  t.name,
		Classifier: pipeline.Kind,
		Accuracy:   report.Accuracy,
		Precision:  report.WeightedAvg.Precision,
		Recall:     report.WeightedAvg.Recall,
		TrainedAt:  time.Now().UTC(),
		DataPoints: len(trainX),
	}
	if binary {
		// ROC-AUC is undefined when the test split holds one class
		if auc, err := ml.ROCAUC(testY, positive, pipeline.Classes[1]); err == nil {
			p.Fprintf(out, "%s ROC-AUC: %.3f\n", t.title, auc)
			log.ROCAUC = auc
		}
	}
	p.Fprintf(out, "%s Confusion Matrix:\n%s", t.title, ml.FormatMatrix(ml.ConfusionMatrix(testY, predicted, pipeline.Classes), pipeline.Classes))
	fmt.Fprintln(out, report.Format())

	path := filepath.Join(opts.outDir, t.name+"_pipeline.json.zst")
	if err := pipeline.Save(path); err != nil {
		return trainedModel{}, fmt.Errorf("saving %s: %w", t.name, err)
	}
	p.Fprintf(out, "Saved pipeline to %s\n", path)

	return trainedModel{target: t, pipeline: pipeline, testX: testX, log: log}, nil
}

// explainSample prints the strongest attributions and the probabilities of
// the first held-out row.
func explainSample(p *message.Printer, out io.Writer, model trainedModel) error {
	x := model.testX[0]
	p.Fprintf(out, "\nExplanation for %s model (sample 0, %s):\n", model.target.title, model.pipeline.ExplainerMethod())

	pred, err := model.pipeline.Predict(x)
	if err != nil {
		return err
	}
	attr, err := model.pipeline.Explain(x)
	if err != nil {
		return err
	}
	values, err := ml.SelectAttribution(attr, pred.Probabilities, len(model.pipeline.FeatureNames))
	if err != nil {
		return err
	}
	ranked, err := ml.RankContributions(model.pipeline.FeatureNames, values, sampleTopK)
	if err != nil {
		return err
	}
	for _, c := range ranked {
		p.Fprintf(out, "Feature '%s' (%.3f) → %s\n", c.Feature, c.Value, ml.Direction(c.Value))
	}

	p.Fprintf(out, "\nPrediction Probabilities: %v\n", pred.Probabilities)
	p.Fprintf(out, "Model Prediction: %s\n", pred.Label)
	return nil
}
