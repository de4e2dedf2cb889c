package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/config"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [productId]",
	Short: "Run the bundle pipeline for one product now",
	Long: `Refreshes the product's relationship record, reconciles it when it is a bundle
and then reconciles every bundle that contains it, directly or through other bundles.

Examples:
  bundle-sync reconcile 7890123456
  bundle-sync reconcile gid://shopify/Product/7890123456`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	productID := bundle.ExtractID(args[0])
	if productID == "" {
		return fmt.Errorf("invalid product id %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.ProcessProductChange(ctx, productID)
	if err != nil {
		return err
	}

	summary := map[string]interface{}{
		"productId":    report.ProductID,
		"indexUpdated": report.IndexUpdated,
		"root":         report.Root.Outcome,
	}
	if report.Propagation != nil {
		bundles := make(map[string]string, len(report.Propagation.Results))
		for _, res := range report.Propagation.Results {
			bundles[res.BundleID] = string(res.Outcome)
		}
		summary["bundles"] = bundles
		summary["cycles"] = report.Propagation.Cycles
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
