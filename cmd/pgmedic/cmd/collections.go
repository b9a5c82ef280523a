package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/pgmedic/pgmedic/internal/core"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Inspect and clean up counter collections",
}

var (
	collectionsFilter string
	cleanupAll        bool
)

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections on this host with their ownership",
	RunE:  runCollectionsList,
}

var collectionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete leftover collections created by earlier pgmedic runs",
	Long: `Deletes collections recorded as managed in the local ownership registry.
Collections created by other tools are never touched, whatever their name.`,
	RunE: runCollectionsCleanup,
}

func init() {
	collectionsListCmd.Flags().StringVar(&collectionsFilter, "filter", "",
		"fuzzy-match collection names")
	collectionsCleanupCmd.Flags().BoolVar(&cleanupAll, "all", false,
		"also clean managed collections outside the configured prefix")

	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsCleanupCmd)
	rootCmd.AddCommand(collectionsCmd)
}

func runCollectionsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	provider, closeProvider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}
	if closeProvider != nil {
		defer func() { _ = closeProvider() }()
	}
	if provider == nil {
		return fmt.Errorf("perfmon provider is %q; nothing to list", cfg.Perfmon.Provider)
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("opening ownership registry: %w", err)
	}
	defer func() { _ = reg.Close() }()

	// Empty prefix: show everything the backend knows, not just ours.
	infos, err := provider.List(ctx, "")
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}

	if collectionsFilter != "" {
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name
		}
		matched := make([]core.CollectionInfo, 0, len(infos))
		for _, m := range fuzzy.Find(collectionsFilter, names) {
			matched = append(matched, infos[m.Index])
		}
		infos = matched
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no collections found")
		return nil
	}
	for _, info := range infos {
		owner := core.OwnerPreExisting
		if managed, err := reg.IsManaged(ctx, info.Name); err == nil && managed {
			owner = core.OwnerManaged
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-12s %d counters\n", info.Name, owner, len(info.Counters))
	}
	return nil
}

func runCollectionsCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	provider, closeProvider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}
	if closeProvider != nil {
		defer func() { _ = closeProvider() }()
	}
	if provider == nil {
		return fmt.Errorf("perfmon provider is %q; nothing to clean", cfg.Perfmon.Provider)
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("opening ownership registry: %w", err)
	}
	defer func() { _ = reg.Close() }()

	rows, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("listing managed collections: %w", err)
	}

	cleaned := 0
	for _, row := range rows {
		if !cleanupAll && !strings.HasPrefix(row.Name, cfg.Perfmon.CollectionPrefix) {
			continue
		}
		log := logger.WithCollection(row.Name)
		if err := provider.Stop(ctx, row.Name); err != nil && !core.IsCollectionNotFound(err) {
			log.Warn("stop before delete failed", "error", err)
		}
		if err := provider.Delete(ctx, row.Name); err != nil && !core.IsCollectionNotFound(err) {
			log.Error("delete failed, keeping registry row", "error", err)
			continue
		}
		if err := reg.Unmark(ctx, row.Name); err != nil {
			log.Warn("failed to unmark collection", "error", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleaned %s (run %s)\n", row.Name, row.RunID)
		cleaned++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d collection(s) cleaned\n", cleaned)
	return nil
}
