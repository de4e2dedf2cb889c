package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"bundle-sync-service/internal/config"
	"github.com/spf13/cobra"
)

var rebuildTypes []string

var rebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the bundle relationship index from the catalog",
	Long: `Lists every product of the bundle product types, reads its definition and
stores it in the relationship index.

Examples:
  bundle-sync rebuild-index
  bundle-sync rebuild-index --type Ramo --type Caja`,
	RunE: runRebuildIndex,
}

func init() {
	rebuildIndexCmd.Flags().StringSliceVarP(&rebuildTypes, "type", "t", nil, "product types to scan (default BUNDLE_PRODUCT_TYPES)")
}

func runRebuildIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	types := rebuildTypes
	if len(types) == 0 {
		types = cfg.BundleProductTypes
	}

	report, err := a.engine.Index().RebuildIndex(ctx, types)
	if err != nil {
		return err
	}
	fmt.Printf("Scanned %d products: %d bundles, %d records updated, %d malformed\n",
		report.Scanned, report.Bundles, report.Updated, report.Malformed)
	return nil
}
