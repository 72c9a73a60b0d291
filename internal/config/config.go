package config

import (
	"github.com/inboxkit/mailflow/internal/engine"
	"github.com/inboxkit/mailflow/internal/rule"
)

// Config is the top-level YAML structure: engine tuning plus an
// optional set of declaratively defined rules seeded into the store at
// startup and on hot reload.
type Config struct {
	Version  string       `yaml:"version"`
	Engine   engine.Conf  `yaml:"engine"`
	Executor ExecutorConf `yaml:"executor"`
	Storage  StorageConf  `yaml:"storage"`
	Rules    []*rule.Rule `yaml:"rules"`
}

// ExecutorConf bounds the action executor.
type ExecutorConf struct {
	// ParallelBranchLimit caps concurrently running parallel branches
	// across the whole process.
	ParallelBranchLimit int `yaml:"parallel_branch_limit"`
}

// StorageConf selects persistence backends. Empty paths mean
// in-memory.
type StorageConf struct {
	RulesDB   string `yaml:"rules_db"`
	LogDB     string `yaml:"log_db"`
	LogBuffer int    `yaml:"log_buffer"`
}

func (c *Config) applyDefaults() {
	c.Engine.ApplyDefaults()
	if c.Executor.ParallelBranchLimit == 0 {
		c.Executor.ParallelBranchLimit = 8
	}
	if c.Storage.LogBuffer == 0 {
		c.Storage.LogBuffer = 10000
	}
}
