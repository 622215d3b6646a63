package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "certdao",
		Short:         "Domain certification registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the configuration file")

	root.AddCommand(newServeCmd(), newUserCmd())

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
