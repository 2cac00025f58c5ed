package kpset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/soundprediction/kpset/pkg/alert"
	"github.com/soundprediction/kpset/pkg/config"
	"github.com/soundprediction/kpset/pkg/data"
	"github.com/soundprediction/kpset/pkg/evaluate"
	"github.com/soundprediction/kpset/pkg/inference"
	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/report"
	"github.com/soundprediction/kpset/pkg/telemetry"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/vocab"
)

// Kpset is the main interface for evaluating and running keyphrase set
// generation models.
type Kpset interface {
	// Evaluate computes the loss statistics of the test set and saves a run
	// report. The report is returned even when the run fails.
	Evaluate(ctx context.Context) (*report.Report, error)

	// Predict decodes the test set into <pred_path>/predictions.txt and
	// saves a run report.
	Predict(ctx context.Context) (*report.Report, error)

	// PredictDocuments decodes documents in memory. Predictions are in
	// input order.
	PredictDocuments(ctx context.Context, docs []data.Document) ([]inference.Prediction, error)

	// Health reports whether the model backend is reachable.
	Health(ctx context.Context) error

	// Close releases the model backend.
	Close() error
}

// Options overrides components that are otherwise built from the
// configuration. All fields are optional.
type Options struct {
	// Model replaces the HTTP model backend.
	Model model.Model
	// Generator replaces the generator chosen by model.generator.
	Generator model.Generator
	// Vocab replaces the vocabulary read from data.vocab_path.
	Vocab *vocab.Vocab

	Logger  *slog.Logger
	Alerter alert.Alerter

	// UseCircuitBreaker wraps the HTTP backend in a circuit breaker even
	// when circuit_breaker.enabled is false.
	UseCircuitBreaker bool
}

// Client is the main implementation of the Kpset interface.
type Client struct {
	config  *config.Config
	vocab   *vocab.Vocab
	model   model.Model
	gen     model.Generator
	health  model.HealthChecker
	closer  io.Closer
	reports *report.Store
	logger  *slog.Logger
}

var _ Kpset = (*Client)(nil)

// New creates a client from cfg. A nil cfg uses config.Default.
func New(cfg *config.Config, opts *Options) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := opts.Vocab
	if v == nil {
		if cfg.Data.VocabPath == "" {
			return nil, errors.New("data.vocab_path is required")
		}
		var err error
		v, err = vocab.Load(cfg.Data.VocabPath, cfg.Decode.VocabSize)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{config: cfg, vocab: v, logger: logger}

	switch {
	case opts.Model != nil:
		c.model = opts.Model
	case cfg.Model.Endpoint != "":
		httpClient, err := model.NewHTTPClient(model.HTTPConfig{
			Endpoint: cfg.Model.Endpoint,
			APIKey:   cfg.Model.APIKey,
			Timeout:  cfg.Model.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		c.closer = httpClient
		if opts.UseCircuitBreaker || cfg.CircuitBreaker.Enabled {
			alerter := opts.Alerter
			if alerter == nil {
				alerter = alert.New(cfg.Alert, logger)
			}
			c.model = model.NewCircuitBreakerModel(httpClient, cfg.CircuitBreaker, alerter, logger, "model")
		} else {
			c.model = httpClient
		}
	default:
		return nil, errors.New("model.endpoint is required when no model is supplied")
	}

	if hc, ok := c.model.(model.HealthChecker); ok {
		c.health = hc
	}

	gen, err := c.newGenerator(opts.Generator)
	if err != nil {
		return nil, err
	}
	c.gen = gen

	store, err := report.NewStore(cfg.Output.ReportDir, report.Format(strings.ToLower(cfg.Output.Format)))
	if err != nil {
		return nil, err
	}
	c.reports = store

	return c, nil
}

func (c *Client) newGenerator(override model.Generator) (model.Generator, error) {
	if override != nil {
		return override, nil
	}
	if !strings.EqualFold(c.config.Model.Generator, "greedy") {
		if g, ok := c.model.(model.Generator); ok {
			return g, nil
		}
	}
	g, err := inference.NewGreedySetGenerator(c.model, inference.GreedyOptions{
		Special:      c.vocab.Special(),
		VocabSize:    c.vocab.Size(),
		MaxKpLen:     c.config.Slots.MaxKpLen,
		MaxDecodeLen: c.config.Decode.MaxDecodeLen,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create greedy generator: %w", err)
	}
	return g, nil
}

// Reports returns the store that run reports are saved to.
func (c *Client) Reports() *report.Store {
	return c.reports
}

// Evaluate implements Kpset.
func (c *Client) Evaluate(ctx context.Context) (*report.Report, error) {
	rep := report.New(report.KindEvaluate, settings(c.config))
	ctx = context.WithValue(ctx, types.ContextKeyRunID, rep.RunID)
	logger := c.logger.With("run_id", rep.RunID)

	err := c.evaluate(ctx, rep, logger)
	return rep, c.finish(ctx, rep, err, logger)
}

func (c *Client) evaluate(ctx context.Context, rep *report.Report, logger *slog.Logger) error {
	if err := c.reports.Save(ctx, rep); err != nil {
		return err
	}

	loader, err := c.testLoader()
	if err != nil {
		return err
	}

	ev, err := evaluate.New(c.model, evaluateOptions(c.config, c.vocab), logger)
	if err != nil {
		return err
	}

	if dir := c.config.Output.StatsDir; dir != "" {
		stats, err := telemetry.NewStatsWriter(dir, rep.RunID)
		if err != nil {
			return err
		}
		ev.SetObserver(stats)
		defer func() {
			if cerr := stats.Close(); cerr != nil {
				logger.Warn("Failed to write batch statistics", "error", cerr)
			}
		}()
	}

	stats, err := ev.Run(ctx, loader)
	rep.SetLoss(stats)
	return err
}

// Predict implements Kpset.
func (c *Client) Predict(ctx context.Context) (*report.Report, error) {
	rep := report.New(report.KindPredict, settings(c.config))
	ctx = context.WithValue(ctx, types.ContextKeyRunID, rep.RunID)
	logger := c.logger.With("run_id", rep.RunID)

	err := c.predict(ctx, rep, logger)
	return rep, c.finish(ctx, rep, err, logger)
}

func (c *Client) predict(ctx context.Context, rep *report.Report, logger *slog.Logger) (err error) {
	if c.config.Decode.PredPath == "" {
		return errors.New("decode.pred_path is required")
	}
	if err := c.reports.Save(ctx, rep); err != nil {
		return err
	}

	loader, err := c.testLoader()
	if err != nil {
		return err
	}
	p, err := inference.NewPredictor(c.gen, c.vocab, predictorOptions(c.config), logger)
	if err != nil {
		return err
	}

	sink, err := inference.NewFileSink(c.config.Decode.PredPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sink.Close())
	}()

	summary, err := p.Run(ctx, loader, sink)
	rep.Prediction = summary
	if err == nil {
		logger.Info("Predictions written", "path", sink.Path(), "documents", summary.Documents)
	}
	return err
}

// PredictDocuments implements Kpset.
func (c *Client) PredictDocuments(ctx context.Context, docs []data.Document) ([]inference.Prediction, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if c.config.Data.Lowercase {
		lowered := make([]data.Document, len(docs))
		for i, d := range docs {
			lowered[i] = d.Lowered()
		}
		docs = lowered
	}
	loader, err := data.NewLoader(docs, c.vocab, dataOptions(c.config))
	if err != nil {
		return nil, err
	}

	opts := predictorOptions(c.config)
	opts.LogInterval = inference.DefaultLogInterval
	p, err := inference.NewPredictor(c.gen, c.vocab, opts, c.logger)
	if err != nil {
		return nil, err
	}

	sink := &inference.CollectSink{}
	if _, err := p.Run(ctx, loader, sink); err != nil {
		return nil, err
	}
	return sink.Predictions(), nil
}

// Health implements Kpset. Backends without a health endpoint are always
// healthy.
func (c *Client) Health(ctx context.Context) error {
	if c.health == nil {
		return nil
	}
	return c.health.Health(ctx)
}

// Close implements Kpset.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) testLoader() (*data.Loader, error) {
	if c.config.Data.TestPath == "" {
		return nil, errors.New("data.test_path is required")
	}
	docs, err := data.LoadDocuments(c.config.Data.TestPath, c.config.Data.Lowercase)
	if err != nil {
		return nil, err
	}
	return data.NewLoader(docs, c.vocab, dataOptions(c.config))
}

// finish records the outcome of a run and saves the final report. A save
// failure is returned only when the run itself succeeded.
func (c *Client) finish(ctx context.Context, rep *report.Report, err error, logger *slog.Logger) error {
	rep.Finish(err)
	// The run context may already be cancelled.
	saveErr := c.reports.Save(context.WithoutCancel(ctx), rep)
	if saveErr != nil {
		logger.Error("Failed to save report", "error", saveErr)
	} else if path, perr := c.reports.Path(rep.RunID); perr == nil {
		logger.Info("Report saved", "path", path, "status", rep.Status, "duration", rep.Duration())
	}
	if err != nil {
		return err
	}
	return saveErr
}
