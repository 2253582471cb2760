package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	salmon "github.com/mku11/Salmon-AES-CTR-sub010"
	"github.com/mku11/Salmon-AES-CTR-sub010/sequence/ipc"
)

// Config holds the CLI settings. Values come from defaults, then the YAML
// file given with -config, then command line flags.
type Config struct {
	Threads       int              `yaml:"threads"`
	BufferSize    int              `yaml:"bufferSize"`
	Integrity     bool             `yaml:"integrity"`
	ChunkSize     int              `yaml:"chunkSize"`
	NameIntegrity bool             `yaml:"nameIntegrity"`
	Provider      string           `yaml:"provider"`
	KDF           salmon.KDFParams `yaml:"kdf"`
	// SeqFile is the local sequence store. The extension picks the backend:
	// .db/.sqlite for SQLite, .badger for Badger, anything else for JSON.
	SeqFile string `yaml:"seqFile"`
	// SeqSocket connects to a sequencer server instead of SeqFile
	SeqSocket string `yaml:"seqSocket"`
	// TrustedUID must own the sequencer server. Unset means root for
	// ipc.DefaultSocketPath and the current user otherwise.
	TrustedUID *int   `yaml:"trustedUid"`
	PassFile   string `yaml:"passFile"`
	Verbose    bool   `yaml:"verbose"`
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	s := salmon.DefaultSettings()
	c.Threads = s.Threads
	c.BufferSize = s.BufferSize
	c.Integrity = true
	c.ChunkSize = s.ChunkSize
	c.Provider = s.Provider.String()
	c.KDF = s.KDF
	if home, err := os.UserHomeDir(); err == nil {
		c.SeqFile = filepath.Join(home, ".salmon", "sequencer.json")
	}
}

// serverUID returns the uid the sequencer server must run as.
func (c *Config) serverUID() int {
	if c.TrustedUID != nil {
		return *c.TrustedUID
	}
	if filepath.Clean(c.SeqSocket) == ipc.DefaultSocketPath {
		return ipc.ReservedUID
	}
	return os.Geteuid()
}

// loadYAML overlays the YAML file at path.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Settings converts c to library settings.
func (c *Config) Settings() (salmon.Settings, error) {
	s := salmon.DefaultSettings()
	p, err := salmon.ParseProvider(c.Provider)
	if err != nil {
		return s, err
	}
	s.Provider = p
	s.KDF = c.KDF
	s.Threads = c.Threads
	s.BufferSize = c.BufferSize
	s.NameIntegrity = c.NameIntegrity
	s.ChunkSize = 0
	if c.Integrity {
		s.ChunkSize = c.ChunkSize
	}
	return s, s.Validate()
}

// parseGlobalFlags parses the flags in front of the subcommand. The YAML file
// is loaded first and explicitly set flags win over it.
func parseGlobalFlags(cfg *Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("salmon", flag.ContinueOnError)
	fs.Usage = func() { usage(fs) }

	configFile := fs.String("config", "", "YAML config `file`")
	threads := fs.Int("threads", cfg.Threads, "partitions per file for import and export")
	integrity := fs.Bool("integrity", cfg.Integrity, "enable chunk integrity for new files")
	seqFile := fs.String("seq-file", cfg.SeqFile, "local nonce sequence store")
	seqSocket := fs.String("seq-socket", cfg.SeqSocket, "sequencer server socket, overrides -seq-file")
	passFile := fs.String("passfile", cfg.PassFile, "read the password from `file`")
	verbose := fs.Bool("v", cfg.Verbose, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *configFile != "" {
		if err := cfg.loadYAML(*configFile); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threads":
			cfg.Threads = *threads
		case "integrity":
			cfg.Integrity = *integrity
		case "seq-file":
			cfg.SeqFile = *seqFile
		case "seq-socket":
			cfg.SeqSocket = *seqSocket
		case "passfile":
			cfg.PassFile = *passFile
		case "v":
			cfg.Verbose = *verbose
		}
	})
	return fs.Args(), nil
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, `Usage: salmon [flags] COMMAND [args]

Commands:
  create DIR                          create a new drive in DIR
  passwd DIR                          change the drive password
  ls DIR [VPATH]                      list a directory of the drive
  import DIR SRC... [-dest VPATH] [-exclude PATTERN]
  export DIR VPATH... -out DIR
  authid DIR                          print this device's auth id
  auth-export DIR TARGET_AUTH_ID FILE hand half of the nonce range to a device
  auth-import DIR FILE                activate this device with an auth file
  seqserver [-socket PATH]            serve the nonce sequencer (default %s)

Flags:
`, ipc.DefaultSocketPath)
	fs.PrintDefaults()
}
