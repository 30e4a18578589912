package cmd

import (
	"log/slog"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/blast"
	"github.com/jjtimmons/pcrdesign/internal/cache"
	"github.com/jjtimmons/pcrdesign/internal/command"
	"github.com/jjtimmons/pcrdesign/internal/design"
	"github.com/jjtimmons/pcrdesign/internal/gfserver"
	"github.com/jjtimmons/pcrdesign/internal/primer3"
)

// app is the set of components a command runs with
type app struct {
	conf     *config.Config
	store    cache.Store
	runner   *blast.Runner
	resolver *blast.Resolver
	designer *design.Designer
}

// newApp reads the settings and creates the BLAST components. If withDesign,
// the settings for primer3 and gfServer are checked and a Designer is created too
func newApp(withDesign bool) (*app, error) {
	conf, err := config.New()
	if err != nil {
		return nil, err
	}

	if withDesign {
		err = conf.ValidateDesign()
	} else {
		err = conf.Validate()
	}
	if err != nil {
		return nil, err
	}
	if err := conf.MakeDirs(); err != nil {
		return nil, err
	}

	store, err := cache.Open(conf.Cache)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	exe := command.Exec{}

	a := &app{
		conf:     conf,
		store:    store,
		runner:   blast.NewRunner(conf, store, exe, logger),
		resolver: blast.NewResolver(conf, exe, logger),
	}

	if withDesign {
		gen := primer3.New(conf, exe, logger)
		newPCR := func() *gfserver.Server { return gfserver.New(conf, exe, exe, logger) }
		a.designer = design.New(conf, a.runner, a.resolver, gen, newPCR, logger)
	}

	return a, nil
}

// Close closes the result cache
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close the result cache", "error", err)
	}
}
