package main

import (
	"github.com/spf13/cobra"

	"github.com/btouchard/burrow/internal/config"
)

// cli carries state shared by every subcommand once the root has loaded it.
type cli struct {
	configPath string
	verbose    int
	cfg        *config.Config
}

func NewRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "burrow",
		Short:         "Burrow - expose a local port through a supervised ngrok tunnel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := loadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			setupLogging(cfg, c.verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().CountVarP(&c.verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewUpCommand(c),
		NewCheckCommand(c),
		NewSessionsCommand(c),
		NewVersionCommand(),
	)

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
