package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgallion1/xmlfilter/internal/config"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

// cli carries state shared by the subcommands of one root command.
type cli struct {
	v   *viper.Viper
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "xmlfilter",
		Short: "Extract fields from XML documents carried in JSON events",
		Long: `xmlfilter applies one XML filter stage to newline-delimited JSON events.

The stage reads an XML document from a source field, copies XPath query
results into destination fields and can store the whole document as a
nested structure. Events the stage cannot handle are tagged, never dropped.

Every flag can also be set through the environment as XMLFILTER_<FLAG>,
for example XMLFILTER_CONFIG or XMLFILTER_LOG_LEVEL.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "stage.yaml", "Path to the stage options file")
	pf.String("log-level", "warn", "Log level (debug|info|warn|error)")
	c.bindFlags(pf.Lookup("config"), pf.Lookup("log-level"))

	c.v.SetEnvPrefix("XMLFILTER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(c.newRunCmd())
	root.AddCommand(c.newCheckCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	c.log = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: config.ParseLogLevel(c.v.GetString("log-level")),
	}))
	return nil
}

// loadStage reads the configured option file and compiles the stage.
func (c *cli) loadStage() (*stage.Stage, error) {
	path := c.v.GetString("config")
	opts, err := config.LoadStageOptions(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	st, err := stage.New(opts, c.log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}
