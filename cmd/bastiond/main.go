package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "bastiond",
		Short: "Document-findings pipeline for physical-security submissions",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Println("No .env file found, using defaults")
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml")

	root.AddCommand(serveCmd(), processCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
