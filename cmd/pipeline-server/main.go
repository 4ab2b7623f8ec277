// Package main is the entry point for the pipeline server.
package main

import (
	"os"

	"github.com/spf13/viper"

	"github.com/hirewire/pipeline-server/cmd/pipeline-server/app"
	"github.com/hirewire/pipeline-server/internal/logger"
)

func main() {
	viper.SetEnvPrefix("PIPELINE")
	viper.AutomaticEnv()

	logger.Initialize(viper.GetBool("debug") || os.Getenv("PIPELINE_DEBUG") != "")
	defer logger.Sync()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
