package config

import (
	"os"
	"time"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Ledger     Ledger     `yaml:"ledger"`
	Sync       Sync       `yaml:"sync"`
	Server     Server     `yaml:"server"`
	Policy     Policy     `yaml:"policy"`
	Membership Membership `yaml:"membership"`
}

type Ledger struct {
	Endpoint           string `yaml:"endpoint"`
	IndexMethod        string `yaml:"indexMethod"`
	MinProtocolVersion string `yaml:"minProtocolVersion"`
	PageSize           int    `yaml:"pageSize"`
	PageRetries        int    `yaml:"pageRetries"`
	MaxTxPerCycle      int    `yaml:"maxTxPerCycle"`
}

type Sync struct {
	Interval         time.Duration `yaml:"interval"`
	CacheTTL         time.Duration `yaml:"cacheTTL"`
	RefreshEveryN    int           `yaml:"refreshEveryN"`
	TemplateCacheTTL time.Duration `yaml:"templateCacheTTL"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Policy struct {
	// Mode is one of "all", "whitelist", "blacklist".
	Mode        string   `yaml:"mode"`
	RecordTypes []string `yaml:"recordTypes"`
}

type Membership struct {
	Endpoint    string        `yaml:"endpoint"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	Concurrency int           `yaml:"concurrency"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Ledger.IndexMethod == "" {
		c.Ledger.IndexMethod = "ledgerdex"
	}
	if c.Ledger.MinProtocolVersion == "" {
		c.Ledger.MinProtocolVersion = "0.8.0"
	}
	if c.Ledger.PageSize <= 0 {
		c.Ledger.PageSize = 100
	}
	if c.Ledger.PageRetries <= 0 {
		c.Ledger.PageRetries = 3
	}
	if c.Ledger.MaxTxPerCycle <= 0 {
		c.Ledger.MaxTxPerCycle = 500
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = time.Minute
	}
	if c.Sync.CacheTTL <= 0 {
		c.Sync.CacheTTL = 5 * time.Minute
	}
	if c.Sync.RefreshEveryN <= 0 {
		c.Sync.RefreshEveryN = 5
	}
	if c.Sync.TemplateCacheTTL <= 0 {
		c.Sync.TemplateCacheTTL = 30 * time.Minute
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Membership.CacheTTL <= 0 {
		c.Membership.CacheTTL = 10 * time.Minute
	}
	if c.Membership.Concurrency <= 0 {
		c.Membership.Concurrency = 8
	}
}
