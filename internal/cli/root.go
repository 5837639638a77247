// Package cli implements the idbstore command line: a thin shell over
// persist.Storage for inspecting and editing persisted state records.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"idbpersist/internal/config"
	"idbpersist/internal/logging"
	"idbpersist/pkg/idb"
	"idbpersist/pkg/persist"
)

// Output formats for values printed by get.
const (
	FormatAuto   = "auto"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

var ValidFormats = []string{FormatAuto, FormatJSON, FormatPretty}

var ErrItemNotFound = errors.New("item not found")

var logger = logging.For("cli")

// RootOptions holds global flags. Non-empty values override the config
// file and environment.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	Engine     string
	Database   string
	Store      string
	LogLevel   string
	Format     string

	cfg *config.Config
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "idbstore",
		Short:         "Inspect and edit persisted state records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logging.Init(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			opts.cfg = cfg
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.ConfigPath, "config", "", "path to config file")
	f.StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides config)")
	f.StringVar(&opts.Engine, "engine", "", "storage engine: bolt or memory (overrides config)")
	f.StringVarP(&opts.Database, "database", "d", "", "database name (overrides config)")
	f.StringVarP(&opts.Store, "store", "s", "", "object store name (overrides config)")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (overrides config)")
	f.StringVar(&opts.Format, "format", FormatAuto, "value output format (auto|json|pretty)")

	cmd.AddCommand(
		newGetCommand(opts),
		newSetCommand(opts),
		newRemoveCommand(opts),
		newKeysCommand(opts),
		newStoresCommand(opts),
	)
	return cmd
}

// Execute runs the root command and reports any error on stderr.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "idbstore: %v\n", err)
		return 1
	}
	return 0
}

func (o *RootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.Database.DataDir = o.DataDir
	}
	if o.Engine != "" {
		cfg.Database.Engine = o.Engine
	}
	if o.Database != "" {
		cfg.Database.Name = o.Database
	}
	if o.Store != "" {
		cfg.Database.Store = o.Store
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Database.DataDir = config.ExpandHome(cfg.Database.DataDir)
	return cfg, nil
}

// factory returns a factory for the configured engine. The caller closes it.
func (o *RootOptions) factory() *idb.Factory {
	if o.cfg.Database.Engine == config.EngineMemory {
		return idb.NewMemoryFactory()
	}
	return idb.NewBoltFactory(o.cfg.Database.DataDir)
}

func (o *RootOptions) storage(f *idb.Factory) (*persist.Storage, error) {
	return persist.NewStorage(f, o.cfg.Database.Name, o.cfg.Database.Store)
}

// pretty reports whether values written to w should be indented.
func (o *RootOptions) pretty(w io.Writer) bool {
	switch o.Format {
	case FormatPretty:
		return true
	case FormatJSON:
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
