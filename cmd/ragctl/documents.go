package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Upload documents for ingestion",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(ingestCmd, deleteCmd, statsCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	c := newClient()
	for _, path := range args {
		result, err := c.Upload(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		cmd.Printf("%s\t%s\t%d chunks\n", result.DocumentID, result.Filename, result.Chunks)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := newClient().Stats(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("Documents:        %d\n", stats.Documents)
	cmd.Printf("Chunks:           %d\n", stats.Chunks)
	cmd.Printf("Dimensions:       %d\n", stats.Dimensions)
	cmd.Printf("Embedding model:  %s\n", stats.EmbeddingModel)
	cmd.Printf("Generation model: %s\n", stats.GenerationModel)
	cmd.Printf("Store healthy:    %t\n", stats.StoreHealthy)
	return nil
}
