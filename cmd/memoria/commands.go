package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kovalev/memoria/internal/config"
)

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	tags := strings.Split(raw, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}
	return tags
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store a memory",
	Long: `Store a memory. Embedding generation is queued in the background.

Examples:
  memoria remember "PostgreSQL vacuum should run nightly" --tags ops,postgres
  memoria remember "Team retro notes" --title Retro --project acme`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		project, _ := cmd.Flags().GetString("project")
		tagsStr, _ := cmd.Flags().GetString("tags")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"content":      strings.Join(args, " "),
			"title":        title,
			"project_name": project,
		}
		if tags := splitTags(tagsStr); tags != nil {
			req["tags"] = tags
		}

		resp, err := client.post(cmd.Context(), "/memories", req)
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored memory %s", result.ID)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("title", "", "title for the memory")
	rememberCmd.Flags().String("project", "", "project name for grouping")
	rememberCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories (hybrid semantic + keyword)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		keyword, _ := cmd.Flags().GetBool("keyword")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		params := url.Values{}
		params.Set("q", query)
		params.Set("limit", fmt.Sprintf("%d", limit))
		if keyword {
			params.Set("hybrid", "false")
			params.Set("use_embedding", "false")
		}

		resp, err := client.get(cmd.Context(), "/search?"+params.Encode())
		if err != nil {
			return err
		}

		var result struct {
			Metadata struct {
				Total        int    `json:"total"`
				SearchMethod string `json:"search_method"`
			} `json:"metadata"`
			Results []struct {
				ID          string   `json:"id"`
				Title       string   `json:"title"`
				Content     string   `json:"content"`
				Tags        []string `json:"tags"`
				Similarity  *float64 `json:"similarity"`
				HybridScore *float64 `json:"hybrid_score"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			printWarning("No matches (%s search)", result.Metadata.SearchMethod)
			return nil
		}

		fmt.Printf("%d match(es) via %s search:\n", result.Metadata.Total, result.Metadata.SearchMethod)
		for _, r := range result.Results {
			score := ""
			switch {
			case r.HybridScore != nil:
				score = fmt.Sprintf(" [%.3f]", *r.HybridScore)
			case r.Similarity != nil:
				score = fmt.Sprintf(" [%.3f]", *r.Similarity)
			}
			title := r.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("  %s%s %s\n", colorize(colorBold, title), score, printMemoryID(r.ID))
			fmt.Printf("    %s\n", truncate(r.Content, 120))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().Bool("keyword", false, "keyword-only search, skip embeddings")
}

// --- forget ---

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/memories/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted memory %s", args[0])
		return nil
	},
}

// --- recent ---

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently stored memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/memories/recent?limit=%d", limit))
		if err != nil {
			return err
		}

		var memories []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Content   string `json:"content"`
			Embedded  bool   `json:"embedded"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &memories); err != nil {
			return err
		}

		if len(memories) == 0 {
			printWarning("No memories stored yet")
			return nil
		}
		for _, m := range memories {
			title := m.Title
			if title == "" {
				title = truncate(m.Content, 60)
			}
			fmt.Printf("  %s %s  %s  %s\n", embedMarker(m.Embedded), m.CreatedAt,
				colorize(colorBold, title), printMemoryID(m.ID))
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().Int("limit", 10, "number of memories to list")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import content from a URL, PDF, or text file",
	Long: `Import external content as a memory.

Examples:
  memoria import --url https://example.com/article --tags research
  memoria import --pdf ./paper.pdf --title "Raft paper"
  memoria import --file ./notes.md --project acme`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urlFlag, _ := cmd.Flags().GetString("url")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		filePath, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		project, _ := cmd.Flags().GetString("project")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if urlFlag == "" && pdfPath == "" && filePath == "" {
			return fmt.Errorf("one of --url, --pdf, or --file is required")
		}

		req := map[string]any{
			"title":        title,
			"project_name": project,
		}
		if tags := splitTags(tagsStr); tags != nil {
			req["tags"] = tags
		}

		switch {
		case urlFlag != "":
			req["type"] = "url"
			req["url"] = urlFlag
		case pdfPath != "":
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("reading pdf: %w", err)
			}
			req["type"] = "pdf"
			req["content"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				req["title"] = pdfPath
			}
		case filePath != "":
			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["type"] = "text"
			req["content"] = string(data)
			if title == "" {
				req["title"] = filePath
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/import", req)
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported as memory %s", result.ID)
		return nil
	},
}

func init() {
	importCmd.Flags().String("url", "", "URL to fetch and import")
	importCmd.Flags().String("pdf", "", "PDF file to import")
	importCmd.Flags().String("file", "", "text file to import")
	importCmd.Flags().String("title", "", "title for the memory")
	importCmd.Flags().String("project", "", "project name for grouping")
	importCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show embedding provider health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/providers/health")
		if err != nil {
			return err
		}

		var rows []struct {
			Provider     string `json:"provider"`
			Healthy      bool   `json:"healthy"`
			LastCheck    string `json:"last_check"`
			ErrorCount   int    `json:"error_count"`
			SuccessCount int    `json:"success_count"`
			LastError    string `json:"last_error"`
		}
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}

		if len(rows) == 0 {
			printWarning("No health data yet — run `memoria providers check`")
			return nil
		}
		for _, row := range rows {
			state := colorize(colorGreen, "healthy")
			if !row.Healthy {
				state = colorize(colorRed, "unhealthy")
			}
			fmt.Printf("  %s: %s (%d ok / %d errors)\n",
				colorize(colorBold, row.Provider), state, row.SuccessCount, row.ErrorCount)
			if row.LastError != "" {
				fmt.Printf("    last error: %s\n", row.LastError)
			}
		}
		return nil
	},
}

var providersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a health check sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/health-check", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Health check sweep completed")
		return providersCmd.RunE(cmd, args)
	},
}

func init() {
	providersCmd.AddCommand(providersCheckCmd)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show embedding job statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/stats")
		if err != nil {
			return err
		}

		var stats map[string]int
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Pending", "%d", stats["pending"])
		printStatus("Processing", "%d", stats["processing"])
		printStatus("Completed", "%d", stats["completed"])
		printStatus("Failed", "%d", stats["failed"])
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove dead failed jobs now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/cleanup", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleanup sweep completed")
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsCleanupCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
