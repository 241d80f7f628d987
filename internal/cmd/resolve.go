package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/strrl/tpcpid/internal/config"
	"github.com/strrl/tpcpid/internal/demand"
	"github.com/strrl/tpcpid/internal/logger"
	"github.com/strrl/tpcpid/internal/species"
)

func newResolveCmd(v *viper.Viper) *cobra.Command {
	var bindings []flagBinding

	resolveCmd := &cobra.Command{
		Use:   "resolve [species...]",
		Short: "Show which tables a run would produce",
		Long: `Resolve the enable flags against the requested outputs and print the decision
for every species, without loading calibrations or reading tracks. Species
may be given by name, tag or table name to limit the listing.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), bindings)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := species.All()
			if len(args) > 0 {
				shown = shown[:0]
				for _, arg := range args {
					s, err := species.Parse(arg)
					if err != nil {
						return err
					}
					shown = append(shown, s)
				}
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			requested, err := cfg.Requested()
			if err != nil {
				return err
			}
			enabled := demand.NewResolver(logger.Named("demand")).Resolve(requested, cfg.Flags)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-5s %-9s %s\n", "TABLE", "FLAG", "REQUESTED", "ENABLED")
			for _, s := range shown {
				fmt.Fprintf(out, "%-10s %-5s %-9s %s\n",
					s.OutputName(), cfg.Flags[s], yesNo(requested.Has(s.OutputName())), yesNo(enabled[s]))
			}
			return nil
		},
	}

	bindings = addDemandFlags(v, resolveCmd.Flags())
	return resolveCmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
