// Command vstorectl inspects and edits store state persisted in SQLite.
//
// Items are read and written with the same codec and wire format the persist
// middleware uses, so a running application picks up edits on its next
// rehydration. The serve command attaches a live store to a WebSocket
// devtools bridge.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jilio/vstore/codec"
	"github.com/jilio/vstore/storage/sqlite"
)

var Version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the resolved configuration shared by all commands.
type app struct {
	cfgFile string
	flags   Config

	cfg    Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "vstorectl",
		Short: "vstorectl - inspect and edit persisted store state",
		Long: `vstorectl reads and writes the items stores persist to SQLite.

Configuration is read from vstorectl.toml, VSTORE_* environment variables
(a .env file is loaded when present) and flags, in increasing precedence.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file path (default vstorectl.toml)")
	pf.StringVar(&a.flags.Database, "db", "", "SQLite database path")
	pf.StringVar(&a.flags.Codec, "codec", "", "storage codec: json, yaml or toml")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.listCmd(),
		a.getCmd(),
		a.setCmd(),
		a.rmCmd(),
		a.clearCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	cfg.merge(a.flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.Logger(a.errOut)
	return nil
}

func (a *app) openStorage() (*sqlite.Store, error) {
	store, err := sqlite.New(a.cfg.Database, sqlite.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.Database, err)
	}
	return store, nil
}

func (a *app) codec() (codec.Codec, error) {
	return codec.Lookup(a.cfg.Codec)
}
