// Package config is for app wide settings that are unmarshalled
// from Viper (see: /cmd)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration is returned when a required executable or directory is not configured.
var ErrConfiguration = errors.New("configuration error")

// BlastConfig is settings for blastn, blastdbcmd and the query directories
type BlastConfig struct {
	// path to the blastn executable
	Executable string `mapstructure:"executable"`

	// path to the blastdbcmd executable, derived from Executable if empty
	Blastdbcmd string `mapstructure:"blastdbcmd"`

	// directory with the BLAST databases
	DatabaseDir string `mapstructure:"database_dir"`

	// the default database to screen targets against
	Database string `mapstructure:"database"`

	// where per-job query files are written
	QueryDir string `mapstructure:"query_dir"`

	// where batch files for blastdbcmd are written
	TmpDir string `mapstructure:"tmp_dir"`

	// queries shorter than this many bases run with "-task blastn-short"
	ShortSequence int `mapstructure:"short_sequence"`

	// default thread count per blastn process
	NumThreads int `mapstructure:"num_threads"`

	// default output format code
	OutFmt string `mapstructure:"outfmt"`
}

// CacheConfig is settings for the BLAST result cache
type CacheConfig struct {
	// either "sqlite" or "redis"
	Backend string `mapstructure:"backend"`

	// path to the sqlite file
	Path string `mapstructure:"path"`

	// address of the redis server
	RedisAddr string `mapstructure:"redis_addr"`
}

// GfServerConfig is settings for the in-silico PCR server
type GfServerConfig struct {
	// path to the gfServer executable
	Executable string `mapstructure:"executable"`

	// path to faToTwoBit, derived from Executable if empty
	FaToTwoBit string `mapstructure:"fa_to_two_bit"`

	// port gfServer binds to on localhost
	Port int `mapstructure:"port"`

	// the max product size for "gfServer pcr"
	MaxDistance int `mapstructure:"max_distance"`

	// number of attempts per pcr query while gfServer writes to stderr
	Trials int `mapstructure:"trials"`

	// pause between attempts
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// Primer3Config is settings for primer3_core
type Primer3Config struct {
	// path to the primer3_core executable
	Executable string `mapstructure:"executable"`

	// path to primer3's thermodynamic parameters (with trailing separator)
	ConfigDir string `mapstructure:"config_dir"`
}

// DesignConfig is settings for the primer design loop
type DesignConfig struct {
	// initial number of primer pairs requested from primer3
	PoolSize int `mapstructure:"pool_size"`

	// the maximum number of pool doublings before giving up
	MaxIterations int `mapstructure:"max_iterations"`

	// number of concurrent gfServer pcr queries
	Workers int `mapstructure:"workers"`

	// where reference FASTA files for gfServer are written
	DataDir string `mapstructure:"data_dir"`
}

// ServerConfig is settings for the REST front end
type ServerConfig struct {
	// address to listen on
	Addr string `mapstructure:"addr"`

	// number of concurrently executing jobs
	Workers int `mapstructure:"workers"`

	// the longest a request waits on a job result
	ResultTimeout time.Duration `mapstructure:"result_timeout"`
}

// Config is the root-level settings struct and is a mix
// of settings available in pcrdesign.yaml, the environment
// and those available from the command line
type Config struct {
	Blast    BlastConfig    `mapstructure:"blast"`
	Cache    CacheConfig    `mapstructure:"cache"`
	GfServer GfServerConfig `mapstructure:"gfserver"`
	Primer3  Primer3Config  `mapstructure:"primer3"`
	Design   DesignConfig   `mapstructure:"design"`
	Server   ServerConfig   `mapstructure:"server"`
}

// SetDefaults registers default settings and environment bindings on v
func SetDefaults(v *viper.Viper) {
	threads := runtime.NumCPU()
	if threads > 6 {
		threads = 6
	}

	v.SetDefault("blast.database", "nt")
	v.SetDefault("blast.tmp_dir", os.TempDir())
	v.SetDefault("blast.short_sequence", 25)
	v.SetDefault("blast.num_threads", threads)
	v.SetDefault("blast.outfmt", "5")
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.path", "blast_jobs.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("gfserver.port", 12345)
	v.SetDefault("gfserver.max_distance", 1500)
	v.SetDefault("gfserver.trials", 100)
	v.SetDefault("gfserver.retry_delay", 100*time.Millisecond)
	v.SetDefault("primer3.executable", "primer3_core")
	v.SetDefault("design.pool_size", 3200)
	v.SetDefault("design.max_iterations", 6)
	v.SetDefault("design.workers", 4)
	v.SetDefault("design.data_dir", "data")
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.workers", 10)
	v.SetDefault("server.result_timeout", 120*time.Second)

	// names used by earlier deployments
	_ = v.BindEnv("blast.executable", "BLAST_EXECUTABLE")
	_ = v.BindEnv("blast.database_dir", "BLAST_DIRECTORY")
	_ = v.BindEnv("gfserver.executable", "GFSERVER")
	_ = v.BindEnv("cache.redis_addr", "REDIS_ADDR")
}

// New returns a new Config struct populated by the global Viper settings
// (the local pcrdesign.yaml, the environment and/or command line arguments)
func New() (*Config, error) {
	return FromViper(viper.GetViper())
}

// FromViper unmarshalls v into a Config and fills in derived paths
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	if c.Blast.Blastdbcmd == "" && c.Blast.Executable != "" {
		c.Blast.Blastdbcmd = sibling(c.Blast.Executable, "blastn", "blastdbcmd")
	}
	if c.Blast.QueryDir == "" && c.Blast.DatabaseDir != "" {
		c.Blast.QueryDir = filepath.Join(filepath.Dir(c.Blast.DatabaseDir), "query")
	}
	if c.GfServer.FaToTwoBit == "" && c.GfServer.Executable != "" {
		c.GfServer.FaToTwoBit = sibling(c.GfServer.Executable, "gfServer", "faToTwoBit")
	}

	return &c, nil
}

// Validate checks that the BLAST executable and database directory are set
func (c *Config) Validate() error {
	var missing []string
	if c.Blast.Executable == "" {
		missing = append(missing, "blast.executable (BLAST_EXECUTABLE)")
	}
	if c.Blast.DatabaseDir == "" {
		missing = append(missing, "blast.database_dir (BLAST_DIRECTORY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.Blast.NumThreads < 1 {
		return fmt.Errorf("%w: blast.num_threads must be 1 or higher", ErrConfiguration)
	}

	return nil
}

// ValidateDesign checks the settings needed by the design loop on top of Validate
func (c *Config) ValidateDesign() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.GfServer.Executable == "" {
		return fmt.Errorf("%w: missing gfserver.executable (GFSERVER)", ErrConfiguration)
	}
	if _, err := os.Stat(c.GfServer.Executable); err != nil {
		return fmt.Errorf("%w: gfServer executable not found in location: %s", ErrConfiguration, c.GfServer.Executable)
	}
	if c.Primer3.Executable == "" {
		return fmt.Errorf("%w: missing primer3.executable", ErrConfiguration)
	}

	return nil
}

// MakeDirs creates the query, tmp and data directories
func (c *Config) MakeDirs() error {
	for _, dir := range []string{c.Blast.DatabaseDir, c.Blast.QueryDir, c.Blast.TmpDir, c.Design.DataDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}
	return nil
}

// sibling returns the path to another executable in the same directory as exe,
// swapping name for other in the base name
func sibling(exe, name, other string) string {
	dir, base := filepath.Split(exe)
	if i := strings.LastIndex(base, name); i >= 0 {
		return dir + base[:i] + other + base[i+len(name):]
	}
	return filepath.Join(dir, other)
}
