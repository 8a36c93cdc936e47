// Package manifest handles lamavm.toml configuration.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "lamavm.toml"

// Defaults applied to missing settings.
const (
	DefaultFixtureDir = "tests"
	DefaultDatabase   = ".lamavm/history.db"
	DefaultAddr       = "localhost:7423"
	DefaultWorkers    = 4
)

//go:embed schema.cue
var schemaSource string

// Manifest represents a lamavm.toml configuration.
type Manifest struct {
	Run      Run      `toml:"run" json:"run"`
	Fixtures Fixtures `toml:"fixtures" json:"fixtures"`
	Results  Results  `toml:"results" json:"results"`
	Server   Server   `toml:"server" json:"server"`
	Log      Log      `toml:"log" json:"log"`

	// Dir is the directory containing the lamavm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Run configures interpreter runs.
type Run struct {
	StepLimit int  `toml:"step-limit" json:"step-limit"`
	Trace     bool `toml:"trace" json:"trace"`
}

// Fixtures configures the regression harness.
type Fixtures struct {
	Dir string `toml:"dir" json:"dir"`
}

// Results configures the run history.
type Results struct {
	Database string `toml:"database" json:"database"`
}

// Server configures the run service.
type Server struct {
	Addr    string `toml:"addr" json:"addr"`
	Workers int    `toml:"workers" json:"workers"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no lamavm.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Fixtures.Dir == "" {
		m.Fixtures.Dir = DefaultFixtureDir
	}
	if m.Results.Database == "" {
		m.Results.Database = DefaultDatabase
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.Workers == 0 {
		m.Server.Workers = DefaultWorkers
	}
}

// Load parses a lamavm.toml file from the given directory, applies defaults
// and validates the result.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a lamavm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks m against the configuration schema.
func (m *Manifest) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	v := def.Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// FixtureDir returns the absolute fixture directory.
func (m *Manifest) FixtureDir() string { return m.resolve(m.Fixtures.Dir) }

// DatabasePath returns the absolute path of the run history database.
func (m *Manifest) DatabasePath() string { return m.resolve(m.Results.Database) }

// LogFile returns the absolute log file path, or "" to log to stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
