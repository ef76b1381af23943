package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/processor"
	"anime-identifier-go/internal/types"
)

type imageProcessor interface {
	ProcessSource(ctx context.Context, source string, timeout time.Duration) (processor.Result, error)
	ProcessBatch(ctx context.Context, samples []types.Sample, timeout time.Duration, progress func(processor.Result)) []processor.Result
}

type processorFactory func(cfg *config.Config, log *logrus.Entry) (imageProcessor, error)

func buildProcessor(cfg *config.Config, log *logrus.Entry) (imageProcessor, error) {
	return processor.Build(cfg, log)
}

type commandContext struct {
	configFlag *string
	verbose    *bool
	build      processorFactory

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool, build processorFactory) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose, build: build}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configPath, c.configSeen, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// logger writes to the command's stderr. Info is hidden unless --verbose.
func (c *commandContext) logger(cmd *cobra.Command) *logger.Logger {
	log := logger.NewWithOutput(cmd.ErrOrStderr())
	if c.verbose == nil || !*c.verbose {
		log.Logger.SetLevel(logrus.WarnLevel)
	}
	return log
}

func (c *commandContext) processor(cmd *cobra.Command) (imageProcessor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return c.build(cfg, c.logger(cmd).Entry)
}
