package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	catalog  string
	sequence string
	runs     int
	gap      time.Duration
	verbose  bool
}

func (c *Config) validate() error {
	if c.catalog == "" {
		return errors.New("--catalog is required (env: FLUXCTL_CATALOG)")
	}
	if c.runs < 1 {
		return fmt.Errorf("invalid run count (must be at least 1): %d", c.runs)
	}
	if c.gap < 0 {
		return fmt.Errorf("invalid gap (must not be negative): %s", c.gap)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FLUXCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "fluxctl",
		Short:         "Lint and simulate overlay sequence catalogs.",
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindEnv(v, cmd.Flags())
			return cfg.validate()
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVarP(&cfg.catalog, "catalog", "c", "", "path to the YAML catalog (env: FLUXCTL_CATALOG)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: FLUXCTL_VERBOSE)")

	lint := &cobra.Command{
		Use:   "lint",
		Short: "Validate a catalog and list its sequences.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd.OutOrStdout(), cfg)
		},
	}

	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Play sequences on a simulated clock and print the schedule.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.OutOrStdout(), cfg)
		},
	}
	sfs := simulate.Flags()
	sfs.StringVarP(&cfg.sequence, "sequence", "s", "", "sequence to play; all sequences when empty (env: FLUXCTL_SEQUENCE)")
	sfs.IntVarP(&cfg.runs, "runs", "n", 1, "number of runs of each sequence (env: FLUXCTL_RUNS)")
	sfs.DurationVar(&cfg.gap, "gap", 0, "time between the start of overlapping runs; 0 plays them back to back (env: FLUXCTL_GAP)")

	cmd.AddCommand(lint, simulate)

	for _, c := range []*cobra.Command{cmd, lint, simulate} {
		c.Flags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
			return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
		})
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("fluxctl v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// bindEnv fills every flag not given on the command line from its FLUXCTL_ variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
