package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest documents into the knowledge base.

The format is inferred from the file extension (.pdf, .md, .markdown,
.txt); anything else is treated as plain text. PDF payloads are sent
base64-encoded.

Examples:
  sage ingest --sector docs ./handbook.pdf
  sage ingest --sector notes --title "Weekly sync" ./sync.md
  sage ingest --sector eng ./a.md ./b.txt ./c.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sector, _ := cmd.Flags().GetString("sector")
		title, _ := cmd.Flags().GetString("title")

		if sector == "" {
			return fmt.Errorf("--sector is required")
		}
		if title != "" && len(args) > 1 {
			return fmt.Errorf("--title can only be used with a single file")
		}

		type document struct {
			Title    string `json:"title"`
			SectorID string `json:"sector_id"`
			Format   string `json:"format"`
			Content  string `json:"content"`
		}

		docs := make([]document, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			format := formatForFile(path)
			content := string(data)
			if format == "pdf" {
				content = base64.StdEncoding.EncodeToString(data)
			}

			docTitle := title
			if docTitle == "" {
				docTitle = filepath.Base(path)
			}

			docs = append(docs, document{
				Title:    docTitle,
				SectorID: sector,
				Format:   format,
				Content:  content,
			})
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/ingest", map[string]any{"documents": docs})
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Title      string `json:"title"`
				DocumentID string `json:"document_id"`
				ChunkCount int    `json:"chunk_count"`
				Error      string `json:"error"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		failed := 0
		for _, r := range result.Results {
			if r.Error != "" {
				printError("%s: %s", r.Title, r.Error)
				failed++
				continue
			}
			printSuccess("%s: %d chunks (doc %s)", r.Title, r.ChunkCount, r.DocumentID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(result.Results))
		}
		return nil
	},
}

func formatForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}

func init() {
	ingestCmd.Flags().String("sector", "", "sector to ingest into (required)")
	ingestCmd.Flags().String("title", "", "title for the document (single file only)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask the assistant a question",
	Long: `Ask the assistant a question grounded in the knowledge base.

Without --conversation, the most recent active conversation for the
user and sector is continued, or a new one is started.

Examples:
  sage ask --user alice --sector docs "How do I rotate the API token?"
  sage ask --user alice --sector docs --conversation 4f1c... "And for staging?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		sector, _ := cmd.Flags().GetString("sector")
		conversationID, _ := cmd.Flags().GetString("conversation")
		maxResults, _ := cmd.Flags().GetInt("max-results")
		showSources, _ := cmd.Flags().GetBool("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"user_id":   user,
			"sector_id": sector,
			"query":     query,
		}
		if conversationID != "" {
			req["conversation_id"] = conversationID
		}
		if maxResults > 0 {
			req["max_results"] = maxResults
		}

		resp, err := client.post("/ask", req)
		if err != nil {
			return err
		}

		var answer struct {
			ConversationID string `json:"conversation_id"`
			Response       string `json:"response"`
			Type           string `json:"type"`
			Sources        []struct {
				SourceID   string            `json:"source_id"`
				Content    string            `json:"content"`
				Similarity float32           `json:"similarity"`
				Metadata   map[string]string `json:"metadata"`
			} `json:"sources"`
			Evaluation *struct {
				Groundedness float64 `json:"groundedness"`
				Relevancy    float64 `json:"relevancy"`
			} `json:"evaluation"`
		}
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Response)

		if answer.Type == "no_context" {
			printWarning("No relevant context found in sector %q", sector)
		}
		if showSources && len(answer.Sources) > 0 {
			fmt.Println()
			for i, s := range answer.Sources {
				title := s.Metadata["title"]
				if title == "" {
					title = s.SourceID
				}
				fmt.Printf("%s %s [%.2f]\n", colorize(colorBold, fmt.Sprintf("[%d]", i+1)), title, s.Similarity)
				excerpt := s.Content
				if len(excerpt) > 200 {
					excerpt = excerpt[:200] + "..."
				}
				fmt.Printf("    %s\n", excerpt)
			}
		}
		if answer.Evaluation != nil {
			printStatus("Groundedness", "%.2f", answer.Evaluation.Groundedness)
			printStatus("Relevancy", "%.2f", answer.Evaluation.Relevancy)
		}
		printStatus("Conversation", "%s", answer.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "", "user identifier (required)")
	askCmd.Flags().String("sector", "", "sector to search (required)")
	askCmd.Flags().String("conversation", "", "continue a specific conversation")
	askCmd.Flags().Int("max-results", 0, "maximum number of retrieved fragments")
	askCmd.Flags().Bool("sources", false, "print the retrieved sources")
	askCmd.MarkFlagRequired("user")
	askCmd.MarkFlagRequired("sector")
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect or delete conversations",
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/conversations/" + args[0])
		if err != nil {
			return err
		}

		var conversation any
		if err := decodeJSON(resp, &conversation); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conversation)
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/conversations/" + args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()

		printSuccess("Deleted conversation %s", args[0])
		return nil
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}
