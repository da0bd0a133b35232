package main

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/config"
	"hiring-pipeline-agents/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
		if c.configErr != nil {
			c.configErr = fmt.Errorf("load config: %w", c.configErr)
		}
	})
	return c.config, c.configErr
}

// configWithWorkers applies a --workers override on top of the loaded config.
func (c *commandContext) configWithWorkers(workers []string) (config.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return config.Config{}, err
	}
	if len(workers) > 0 {
		cfg.Workers = workers
		if err := cfg.Validate(); err != nil {
			return config.Config{}, fmt.Errorf("--workers: %w", err)
		}
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
