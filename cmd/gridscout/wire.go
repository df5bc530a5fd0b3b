package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/entrhq/gridscout/pkg/config"
	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/llm"
	"github.com/entrhq/gridscout/pkg/llm/openai"
	"github.com/entrhq/gridscout/pkg/llm/tokenizer"
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/oracle"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/entrhq/gridscout/pkg/workflow"
)

func (a *app) browserOptions() browser.Options {
	b := a.cfg.Browser
	return browser.Options{
		Headless:          b.Headless,
		ViewportWidth:     b.ViewportWidth,
		ViewportHeight:    b.ViewportHeight,
		NavigationTimeout: b.NavigationTimeout,
		ElementTimeout:    b.ElementTimeout,
	}
}

func (a *app) drivers() workflow.DriverFactory {
	opts := a.browserOptions()
	return func(ctx context.Context) (browser.Driver, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return browser.NewPlaywrightDriver(opts)
	}
}

// provider opens the chat model. With the rules oracle a missing key is
// not fatal: exploration runs offline and repairs are disabled.
func (a *app) provider() (llm.Provider, error) {
	opts := []openai.ProviderOption{
		openai.WithModel(a.cfg.Oracle.Model),
		openai.WithTimeout(a.cfg.Oracle.Timeout),
	}
	if a.cfg.Oracle.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(a.cfg.Oracle.BaseURL))
	}
	p, err := openai.NewProvider(a.cfg.APIKey(), opts...)
	if err != nil {
		if a.cfg.Oracle.Kind == config.OracleRules {
			a.logger.Warnf("no model available, script repair disabled: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (a *app) oracle(provider llm.Provider) (oracle.Oracle, error) {
	if a.cfg.Oracle.Kind == config.OracleRules {
		return oracle.NewRuleOracle(), nil
	}

	tok, err := tokenizer.New()
	if err != nil {
		a.logger.Warnf("tokenizer unavailable, estimating snapshot size: %v", err)
	}
	var o oracle.Oracle = oracle.NewLLMOracle(provider,
		oracle.WithSnapshotBudget(a.cfg.Oracle.MaxSnapshotTokens),
		oracle.WithTokenizer(tok),
		oracle.WithCallTimeout(a.cfg.Oracle.Timeout),
		oracle.WithLogger(a.logger.With("oracle")),
	)
	if a.cfg.Oracle.CacheSize > 0 {
		cached, err := oracle.NewCachingOracle(o, a.cfg.Oracle.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create decision cache: %w", err)
		}
		o = cached
	}
	return o, nil
}

func (a *app) executor() (*heal.Executor, error) {
	return heal.NewExecutor(heal.ExecutorOptions{
		Command: a.cfg.Executor.Command,
		Timeout: a.cfg.Executor.Timeout,
		DataDir: a.cfg.Paths.DataDir,
		Logger:  a.logger.With("executor"),
	})
}

func (a *app) synthesizer() *synth.Synthesizer {
	b := a.cfg.Browser
	return synth.New(synth.Options{
		PostClickWait:     b.PostClickWait,
		GridTimeout:       b.GridTimeout,
		NavigationTimeout: b.NavigationTimeout,
		ElementTimeout:    b.ElementTimeout,
		ViewportWidth:     b.ViewportWidth,
		ViewportHeight:    b.ViewportHeight,
	})
}

func (a *app) catalog() *catalog.Catalog {
	return catalog.New(a.cfg.Paths.ArtifactsDir)
}

// pipeline wires the full explore, synthesize and heal chain. m may be nil.
func (a *app) pipeline(m *metrics.Metrics) (*workflow.Pipeline, error) {
	provider, err := a.provider()
	if err != nil {
		return nil, err
	}
	o, err := a.oracle(provider)
	if err != nil {
		return nil, err
	}
	exec, err := a.executor()
	if err != nil {
		return nil, err
	}
	var repairer heal.Repairer
	if provider != nil {
		repairer = heal.NewLLMRepairer(provider, a.cfg.Oracle.Timeout)
	}

	b := a.cfg.Breakers
	return workflow.New(workflow.Config{
		Drivers:      a.drivers(),
		Oracle:       o,
		Synthesizer:  a.synthesizer(),
		Tester:       exec,
		Repairer:     repairer,
		ArtifactsDir: a.cfg.Paths.ArtifactsDir,
		Limits: explorer.Limits{
			MaxDisclaimerClicks:    b.MaxDisclaimerClicks,
			MaxAttempts:            b.MaxAttempts,
			MaxAlternativeRequests: b.MaxAlternativeRequests,
		},
		MaxRepairs: b.MaxRepairs,
		Metrics:    m,
		Logger:     a.logger.With("pipeline"),
	}), nil
}

// resolveArtifact accepts an existing file path or a catalog name.
func (a *app) resolveArtifact(ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return filepath.Abs(ref)
	}
	return a.catalog().Resolve(ref)
}
