package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aihub/rag-service/internal/client"
	"github.com/spf13/cobra"
)

var (
	queryTopK      int
	queryFilename  string
	querySessionID string
	searchTopK     int
	searchJSON     bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question over the indexed documents",
	Long: `Streams an answer generated from the most relevant chunks.
Tokens are printed as they arrive, followed by the cited sources.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Retrieve matching chunks without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (0 uses the server default)")
	queryCmd.Flags().StringVar(&queryFilename, "filename", "", "restrict retrieval to one file")
	queryCmd.Flags().StringVar(&querySessionID, "session", "", "session id for conversation history")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of chunks to retrieve (0 uses the server default)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd, searchCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	c := client.New(serverURL, 0)
	result, err := c.Query(cmd.Context(), client.QueryOptions{
		Query:     strings.Join(args, " "),
		TopK:      queryTopK,
		Filename:  queryFilename,
		SessionID: querySessionID,
	}, func(token string) {
		cmd.Print(token)
	})
	cmd.Println()
	if err != nil {
		return err
	}

	if result.NoContext {
		cmd.Println("(no matching documents)")
	}
	if result.Sources != "" {
		cmd.Println()
		cmd.Println(result.Sources)
	}
	if result.SessionID != "" {
		cmd.Printf("Session: %s\n", result.SessionID)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	result, err := newClient().Search(cmd.Context(), strings.Join(args, " "), searchTopK)
	if err != nil {
		return err
	}

	if searchJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(result.Matches) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, match := range result.Matches {
		cmd.Printf("  [%d] %s #%d (%.3f)\n", i+1, match.Chunk.Filename, match.Chunk.SequenceIndex, match.Score)
		cmd.Printf("      %s\n", snippet(match.Chunk.Text, 160))
	}
	return nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
