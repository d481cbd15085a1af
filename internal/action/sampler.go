package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"archsearch/internal/dataset"
	"archsearch/internal/genotype"
	"archsearch/internal/model"
	"archsearch/internal/nn"
	"archsearch/internal/sampling"
	"archsearch/internal/stats"
	"archsearch/internal/storage"
	"archsearch/internal/telemetry"
)

// RandomSamplerAction measures every listed architecture at every look-back
// in range and emits one record per pair.
type RandomSamplerAction struct {
	Seed    int64
	Verbose bool
	Logger  *slog.Logger
	// Output receives every record in emission order. May be nil.
	Output stats.OutputLogger
	// Store, when set, also receives the run summary.
	Store   storage.Store
	Metrics *telemetry.Metrics
	RunID   string
}

type SampleResult struct {
	RunID         string
	Architectures int
	Records       []model.SamplingRecord
	StartedAt     time.Time
	FinishedAt    time.Time
}

type samplerSettings struct {
	architectures [][]int
	listing       sampling.ArchitectureListing
	listingParams map[string]any
	loader        dataset.Loader
	loaderParams  map[string]any
	split         string
	minLookBack   int
	maxLookBack   int
	builder       nn.Builder
	sampler       sampling.RandomSamplingFit
	numSamples    int
	options       map[string]any
}

// ValidateConfig reports whether cfg is complete: explicit architectures or a
// listing with its params, a data loader with its params, 1 <= min_look_back
// <= max_look_back, a model builder and num_samples >= 1.
func (a *RandomSamplerAction) ValidateConfig(cfg Config) error {
	_, err := parseSamplerConfig(cfg)
	return err
}

func parseSamplerConfig(cfg Config) (samplerSettings, error) {
	var s samplerSettings
	var err error

	if !cfg.has(KeyArchitectures) && !cfg.has(KeyListing) {
		return s, invalid("either %s or %s is required", KeyArchitectures, KeyListing)
	}
	if cfg.has(KeyListing) {
		name, err := cfg.String(KeyListing)
		if err != nil {
			return s, err
		}
		if s.listing, err = sampling.ResolveListing(name); err != nil {
			return s, invalid("%v", err)
		}
		if !cfg.has(KeyListingParams) {
			return s, invalid("%s requires %s", KeyListing, KeyListingParams)
		}
		if s.listingParams, err = cfg.Map(KeyListingParams); err != nil {
			return s, err
		}
	} else if s.architectures, err = cfg.Architectures(KeyArchitectures); err != nil {
		return s, err
	}

	if !cfg.has(KeyDataLoader) || !cfg.has(KeyDataLoaderParams) {
		return s, invalid("%s and %s are required", KeyDataLoader, KeyDataLoaderParams)
	}
	loaderName, err := cfg.String(KeyDataLoader)
	if err != nil {
		return s, err
	}
	if s.loader, err = dataset.ResolveLoader(loaderName); err != nil {
		return s, invalid("%v", err)
	}
	if s.loaderParams, err = cfg.Map(KeyDataLoaderParams); err != nil {
		return s, err
	}
	if s.split, err = cfg.String(KeyEvaluationSplit); err != nil {
		return s, err
	}

	minLookBack, ok, err := cfg.Int(KeyMinLookBack)
	if err != nil {
		return s, err
	}
	if !ok || minLookBack < 1 {
		return s, invalid("%s must be >= 1", KeyMinLookBack)
	}
	maxLookBack, ok, err := cfg.Int(KeyMaxLookBack)
	if err != nil {
		return s, err
	}
	if !ok || maxLookBack < minLookBack {
		return s, invalid("%s must be >= %s", KeyMaxLookBack, KeyMinLookBack)
	}
	s.minLookBack, s.maxLookBack = minLookBack, maxLookBack

	if !cfg.has(KeyBuilder) {
		return s, invalid("%s is required", KeyBuilder)
	}
	builderName, err := cfg.String(KeyBuilder)
	if err != nil {
		return s, err
	}
	if s.builder, err = nn.ResolveBuilder(builderName); err != nil {
		return s, invalid("%v", err)
	}

	numSamples, ok, err := cfg.Int(KeyNumSamples)
	if err != nil {
		return s, err
	}
	if !ok || numSamples < 1 {
		return s, invalid("%s must be >= 1", KeyNumSamples)
	}
	s.numSamples = numSamples

	samplerName, err := cfg.String(KeySampler)
	if err != nil {
		return s, err
	}
	if samplerName == "" {
		samplerName = sampling.MAERandomSampling{}.Name()
	}
	if s.sampler, err = sampling.ResolveSampler(samplerName); err != nil {
		return s, invalid("%v", err)
	}
	if s.options, err = cfg.Map(KeyOptions); err != nil {
		return s, err
	}
	return s, nil
}

// Do runs the sampling sweep. Every (architecture, look-back) pair is sampled
// with a fresh random source seeded from Seed, so any record can be
// reproduced on its own.
func (a *RandomSamplerAction) Do(ctx context.Context, cfg Config) (SampleResult, error) {
	settings, err := parseSamplerConfig(cfg)
	if err != nil {
		return SampleResult{}, err
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runID := a.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := SampleResult{RunID: runID, StartedAt: time.Now().UTC()}

	ds, err := settings.loader.Load(ctx, settings.loaderParams)
	if err != nil {
		return SampleResult{}, fmt.Errorf("load data: %w", err)
	}
	frame, err := evaluationFrame(ds, settings.split)
	if err != nil {
		return SampleResult{}, err
	}

	architectures := settings.architectures
	if settings.listing != nil {
		if architectures, err = settings.listing.ListArchitectures(ctx, settings.listingParams); err != nil {
			return SampleResult{}, fmt.Errorf("list architectures: %w", err)
		}
	}
	if len(architectures) == 0 {
		return SampleResult{}, invalid("no architectures to sample")
	}
	result.Architectures = len(architectures)

	for _, hidden := range architectures {
		layers := genotype.Architecture{Layers: hidden}.LayerSizes(ds.InputDim(), ds.OutputDim())
		net, err := settings.builder.BuildModel(layers, settings.options)
		if err != nil {
			return SampleResult{}, fmt.Errorf("build model %v: %w", layers, err)
		}
		for lookBack := settings.minLookBack; lookBack <= settings.maxLookBack; lookBack++ {
			windows, err := dataset.ChopData(frame, ds.XFeatures, ds.YFeatures, lookBack)
			if err != nil {
				return SampleResult{}, fmt.Errorf("chop data for look back %d: %w", lookBack, err)
			}
			rng := rand.New(rand.NewSource(a.Seed))
			metrics, err := settings.sampler.Fit(ctx, rng, net, settings.numSamples, windows, settings.options)
			if err != nil {
				return SampleResult{}, fmt.Errorf("sample %v at look back %d: %w", layers, lookBack, err)
			}
			record := model.SamplingRecord{
				VersionedRecord: storage.Versioned(),
				RunID:           runID,
				Architecture:    append([]int(nil), layers...),
				LookBack:        lookBack,
				Metrics:         map[string]float64(metrics),
			}
			if a.Output != nil {
				if err := a.Output.Output(ctx, record); err != nil {
					return SampleResult{}, fmt.Errorf("output record: %w", err)
				}
			}
			if a.Metrics != nil {
				a.Metrics.ObserveSample()
			}
			if a.Verbose {
				logger.Info("sampled architecture", "layers", layers, "look_back", lookBack, "metrics", record.Metrics)
			}
			result.Records = append(result.Records, record)
		}
	}
	result.FinishedAt = time.Now().UTC()

	if a.Store != nil {
		err := a.Store.SaveRun(ctx, model.RunRecord{
			VersionedRecord: storage.Versioned(),
			ID:              runID,
			Mode:            ModeSample,
			Seed:            a.Seed,
			Evaluations:     len(result.Records),
			StartedAt:       result.StartedAt,
			FinishedAt:      result.FinishedAt,
		})
		if err != nil {
			return SampleResult{}, fmt.Errorf("save run: %w", err)
		}
	}
	logger.Info("sampling complete", "run_id", runID, "architectures", result.Architectures, "records", len(result.Records))
	return result, nil
}
