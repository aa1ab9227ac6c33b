package main

import (
	"os"
	"time"

	"github.com/aihub/rag-service/internal/client"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Command line client for the RAG service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	defaultServer := os.Getenv("RAG_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8001"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "RAG service base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout (not applied to streaming queries)")
}

func newClient() *client.Client {
	return client.New(serverURL, timeout)
}
