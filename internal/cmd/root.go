package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/strrl/tpcpid/internal/config"
	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/logger"
	"github.com/strrl/tpcpid/internal/species"
)

type rootOptions struct {
	configFile string
	debug      bool
	logJSON    bool
}

// NewRootCmd builds the command tree around a fresh configuration.
func NewRootCmd() *cobra.Command {
	v := config.New()
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "tpcpid",
		Short: "TPC particle identification tables",
		Long: `tpcpid computes the TPC nsigma separation of every track for each requested
particle hypothesis and stores it as compact quantized tables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Initialize(opts.logJSON, opts.debug); err != nil {
				return err
			}
			if opts.configFile != "" {
				return config.ReadFile(v, opts.configFile)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = false

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (yaml or toml)")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&opts.logJSON, "log-json", false, "Log as JSON")

	rootCmd.AddCommand(newRunCmd(v))
	rootCmd.AddCommand(newResolveCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if hints := errors.FlattenHints(err); hints != "" {
			logger.Logger.Infow("Hint", "hint", hints)
		}
		os.Exit(1)
	}
}

// flagBinding ties a command line flag to a configuration key.
type flagBinding struct {
	flag string
	key  string
}

// bindFlags points the configuration keys at the flags of the command that
// actually runs. Several commands share keys, so binding happens in PreRunE
// rather than at construction.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings []flagBinding) error {
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return errors.Wrapf(err, "binding flag --%s", b.flag)
		}
	}
	return nil
}

func addDemandFlags(v *viper.Viper, fs *pflag.FlagSet) []flagBinding {
	var bindings []flagBinding
	for _, s := range species.All() {
		name := "pid-" + strings.ToLower(s.Tag())
		key := config.PIDKey(s)
		fs.String(name, v.GetString(key), "Enable "+s.OutputName()+" (-1/auto, 0/off, 1/on)")
		bindings = append(bindings, flagBinding{flag: name, key: key})
	}

	fs.StringSlice("require", nil, "Output tables requested by downstream consumers")
	fs.String("workflow", "", "YAML workflow file listing consumers and their inputs")
	return append(bindings,
		flagBinding{"require", "require"},
		flagBinding{"workflow", "workflow"},
	)
}
