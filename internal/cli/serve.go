package cli

import (
	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/demo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo HTTP service",
	Long: `Serve /, /health and /metrics on STATICNET_DEMO_ADDR (default :8000) until
interrupted. Useful to confirm a host answers on its new address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := demo.LoadSettings()
		if err != nil {
			return usageError(err)
		}
		return demo.Run(cmd.Context(), settings, getApp(cmd).Logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
