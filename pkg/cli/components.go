package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/selfheal/pkg/config"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/recorder"
	"github.com/devicelab-dev/selfheal/pkg/vision"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

// memoryBackend is what every backend implements: the store the engine
// reads from plus the archive the memory commands browse.
type memoryBackend interface {
	memory.Store
	memory.Archive
}

// components is the resolution stack shared by run, resolve and serve.
type components struct {
	memory memoryBackend
	index  *vms.Index
	engine *heal.Engine
	writer *recorder.Writer

	strategies []heal.Strategy
	closers    []func() error
}

// openComponents opens locator memory, visual memory and the vision
// clients selected by cfg. Close must be called to flush and release them.
func openComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	comp := &components{}

	mem, closeMem, err := openMemory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	comp.memory = mem
	comp.closers = append(comp.closers, closeMem)

	deps := heal.Deps{
		Memory:     mem,
		Thresholds: cfg.Heal.Thresholds,
		VMSTopK:    cfg.VMS.TopK,
	}

	if cfg.VMS.Enabled {
		db, err := vms.OpenDB(cfg.VMSPath())
		if err != nil {
			comp.Close()
			return nil, err
		}
		comp.closers = append(comp.closers, db.Close)
		ix, err := vms.OpenIndex(db)
		if err != nil {
			comp.Close()
			return nil, err
		}
		comp.index = ix
		deps.Index = ix
		deps.Embedder = vms.GrayEmbedder{}
		logger.Info("visual memory: %d screens from %s", ix.Len(), pathOrMemory(cfg.VMSPath()))
	}

	if err := attachVision(&deps, cfg); err != nil {
		comp.Close()
		return nil, err
	}

	strategies, err := cfg.Strategies()
	if err != nil {
		comp.Close()
		return nil, err
	}
	comp.strategies = pruneStrategies(strategies, cfg)

	comp.engine = heal.NewEngine(deps)

	opts := []recorder.Option{recorder.WithHintFraction(cfg.Heal.HintFraction)}
	if comp.index != nil {
		opts = append(opts, recorder.WithVisualMemory(deps.Embedder, comp.index, cfg.Heal.Thresholds.VMS))
	}
	comp.writer = recorder.New(mem, opts...)

	return comp, nil
}

// Close releases everything in reverse open order.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// openMemory opens the configured locator memory backend. The returned
// closer saves json snapshots back to disk.
func openMemory(ctx context.Context, cfg *config.Config) (memoryBackend, func() error, error) {
	path := cfg.MemoryPath()
	switch cfg.Memory.Backend {
	case config.BackendJSON:
		l, err := memory.OpenFile(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory %s: %w", path, err)
		}
		logger.Info("memory: json snapshot %s", path)
		return l, func() error {
			if err := l.SaveFile(context.Background(), path); err != nil {
				return fmt.Errorf("save memory %s: %w", path, err)
			}
			return nil
		}, nil
	case config.BackendSQLite:
		st, err := memory.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("memory: sqlite %s", path)
		return st, st.Close, nil
	default:
		logger.Info("memory: in-process only")
		return memory.NewLocal(), func() error { return nil }, nil
	}
}

// attachVision fills the vision collaborators for the configured provider.
func attachVision(deps *heal.Deps, cfg *config.Config) error {
	v := cfg.Vision
	service := func(s config.ServiceConfig) vision.ServiceConfig {
		return vision.ServiceConfig{BaseURL: s.URL, Timeout: s.Timeout, ImageMode: v.ImageMode}
	}

	switch v.Provider {
	case config.ProviderHTTP:
		deps.Detector = vision.NewHTTPDetector(service(v.Detection))
		deps.Grounder = vision.NewHTTPGrounder(service(v.Grounding))
		deps.Segmenter = vision.NewHTTPSegmenter(service(v.Segmentation))
	case config.ProviderOpenAI:
		g, err := vision.NewOpenAIGrounder(vision.OpenAIConfig{
			BaseURL: v.OpenAI.BaseURL,
			Model:   v.OpenAI.Model,
			Timeout: v.OpenAI.Timeout,
		})
		if err != nil {
			return err
		}
		deps.Detector = vision.NewHTTPDetector(service(v.Detection))
		deps.Grounder = g
		deps.Segmenter = vision.NewHTTPSegmenter(service(v.Segmentation))
	case config.ProviderMock:
		deps.Detector = &vision.StaticDetector{}
		deps.Grounder = &vision.StaticGrounder{}
		deps.Segmenter = &vision.StaticSegmenter{}
	}
	return nil
}

// pruneStrategies drops the strategies the configuration cannot serve so
// they are reported as skipped rather than failed.
func pruneStrategies(enabled []heal.Strategy, cfg *config.Config) []heal.Strategy {
	drop := map[heal.Strategy]bool{}
	if !cfg.VMS.Enabled {
		drop[heal.StrategyVMS] = true
	}
	if cfg.Vision.Provider == config.ProviderNone {
		drop[heal.StrategyVGS] = true
		drop[heal.StrategySAM3] = true
	}
	if len(drop) == 0 {
		return enabled
	}

	src := enabled
	if src == nil {
		src = heal.AllStrategies
	}
	out := make([]heal.Strategy, 0, len(src))
	for _, s := range src {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}

func pathOrMemory(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}
