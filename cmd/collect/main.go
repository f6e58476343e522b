package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LJTian/ArticleHub/internal/aggregator"
	"github.com/LJTian/ArticleHub/internal/app"
	"github.com/LJTian/ArticleHub/internal/config"
)

var (
	flagCategory string
	flagLinks    bool
	flagPaginate bool
	flagArchive  bool
	flagSources  string
)

// 一个仅执行一次采集任务的命令行入口：适合手动触发采集
var rootCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fetch all enabled sources once and print the merged articles as JSON",
	RunE:  runCollect,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE:  runSources,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSources, "sources", "", "path to sources YAML (overrides SOURCES_FILE)")
	rootCmd.Flags().StringVar(&flagCategory, "category", "", "only collect this category")
	rootCmd.Flags().BoolVar(&flagLinks, "links", false, "extract links from excerpts")
	rootCmd.Flags().BoolVar(&flagPaginate, "paginate", false, "follow pagination for paginated sources")
	rootCmd.Flags().BoolVar(&flagArchive, "archive", false, "save results to Postgres (requires POSTGRES_DSN)")

	rootCmd.AddCommand(sourcesCmd)
}

func newApp(cmd *cobra.Command) (*app.App, error) {
	cfg := config.Load()
	if flagSources != "" {
		cfg.SourcesFile = flagSources
	}
	if !flagArchive {
		cfg.PostgresDSN = ""
	}
	return app.New(cmd.Context(), cfg, cfg.NewLogger())
}

func runCollect(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	articles := a.Aggregator.AggregateSources(cmd.Context(), flagCategory, aggregator.Options{
		ExtractLinks:  flagLinks,
		UsePagination: flagPaginate,
		ForceRefresh:  true,
	})

	if flagArchive {
		if a.Store == nil {
			return fmt.Errorf("archive requested but POSTGRES_DSN is empty")
		}
		if err := a.Store.SaveBatch(cmd.Context(), articles); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if st, ok := a.Aggregator.LastRun(flagCategory); ok {
		a.Logger.Info("collect finished",
			"articles", st.Articles,
			"succeeded", st.Succeeded,
			"failed", st.Failed,
			"skipped", st.Skipped,
			"duration", st.Duration,
		)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(articles)
}

func runSources(cmd *cobra.Command, _ []string) error {
	flagArchive = false
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tCATEGORY\tENABLED\tENDPOINT")
	for _, src := range a.Registry.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", src.ID, src.Kind, src.Category, src.Enabled, src.Endpoint)
	}
	return w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
