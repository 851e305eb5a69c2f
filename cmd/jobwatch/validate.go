package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"jobwatch/internal/config"
	"jobwatch/internal/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and report every invalid field",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	err = cfg.Validate()
	var v *domain.ValidationError
	if errors.As(err, &v) {
		for _, f := range v.Fields {
			fmt.Fprintf(out, "%s: %s\n", f.Field, f.Message)
		}
		return err
	}
	if err != nil {
		return err
	}

	fc := cfg.FilterConfig()
	fmt.Fprintf(out, "config OK: feeds=%v interval=%s channels=%v storage=%s\n",
		fc.Feeds(), fc.PollInterval(), fc.NotifyChannels, cfg.Storage.Driver)
	return nil
}
