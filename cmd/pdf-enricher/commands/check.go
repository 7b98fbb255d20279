package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-enricher/cmd/pdf-enricher/ui"
	"github.com/spherical/pdf-enricher/internal/app"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/vision"
)

const checkTimeout = 30 * time.Second

var checkProvider string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the vision provider is reachable and configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := checkProvider
		if name == "" {
			name = cfg.Vision.Provider
		}

		provider, err := app.ProviderFactory(cfg, observability.Nop(), nil)(name, "")
		if err != nil {
			ui.Error("%v", err)
			return err
		}

		return checkReachable(cmd.Context(), provider)
	},
}

// checkReachable runs the provider's check behind a spinner.
func checkReachable(ctx context.Context, provider vision.Provider) error {
	spin := ui.NewSpinner("Contacting " + provider.Name() + " (" + provider.Model() + ")")
	spin.Start()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	err := provider.Check(ctx)
	spin.Stop()

	if err != nil {
		ui.Error("%s check failed: %v", provider.Name(), err)
		return err
	}
	ui.Success("%s is ready with model %s", provider.Name(), provider.Model())
	return nil
}

func init() {
	checkCmd.Flags().StringVar(&checkProvider, "provider", "", "provider to check; defaults to config")
	rootCmd.AddCommand(checkCmd)
}
