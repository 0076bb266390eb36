package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("couldn't load .env: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mapring",
		Short:        "Cluster-wide agreement on type id to class name mappings",
		SilenceUsage: true,
	}

	var (
		cfgPath = envOr("MAPRING_CONFIG", "mapring.yaml")
		seed    string
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cluster node (bus, sequencer, sweeper and HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath, seed)
		},
	}
	serveCmd.Flags().StringVar(&cfgPath, "config", cfgPath, "YAML config file (env MAPRING_CONFIG)")
	serveCmd.Flags().StringVar(&seed, "cluster-server", "", "bus address of a member to join (overrides cluster.seed)")

	cl := newClient()
	root.PersistentFlags().StringVar(&cl.BaseURL, "api-url", cl.BaseURL, "HTTP API of a running node (env MAPRING_API_URL)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", cl.OutFormat, "output format: json|text")

	root.AddCommand(serveCmd, newRegisterCmd(cl), newResolveCmd(cl), newListCmd(cl))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
