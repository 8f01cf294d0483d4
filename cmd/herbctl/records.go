package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/herbledger/pkg/client"
	"github.com/spf13/cobra"
)

// now is the default event timestamp.
func now() string { return time.Now().UTC().Format(time.RFC3339) }

func parseObject(flag, s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return m, nil
}

func printRecord(rec *client.Record) error {
	if outFormat == "json" {
		return printJSON(rec)
	}
	id := rec.ID
	if id == "" {
		id = rec.PackageID
	}
	fmt.Printf("✓ %s %s recorded for %s\n", rec.DocType, id, rec.Org)
	return nil
}

// ── collect ──────────────────────────────────────────────────────────────────

var (
	collID        string
	collLat       float64
	collLng       float64
	collSpecies   string
	collCollector string
	collTimestamp string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Record a harvest (collection event)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.CreateCollection(context.Background(), client.Collection{
			ID: collID, Lat: collLat, Lng: collLng, Species: collSpecies,
			CollectorID: collCollector, Timestamp: collTimestamp,
		})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		return printRecord(rec)
	},
}

func init() {
	collectCmd.Flags().StringVar(&collID, "id", "", "Collection event id; becomes the batch id")
	collectCmd.Flags().Float64Var(&collLat, "lat", 0, "Harvest latitude")
	collectCmd.Flags().Float64Var(&collLng, "lng", 0, "Harvest longitude")
	collectCmd.Flags().StringVar(&collSpecies, "species", "", "Botanical species")
	collectCmd.Flags().StringVar(&collCollector, "collector", "", "Collector id")
	collectCmd.Flags().StringVar(&collTimestamp, "timestamp", now(), "Event timestamp")
	for _, f := range []string{"id", "lat", "lng", "species", "collector"} {
		_ = collectCmd.MarkFlagRequired(f)
	}
}

// ── process ──────────────────────────────────────────────────────────────────

var (
	procID        string
	procBatch     string
	procStepType  string
	procParams    string
	procTimestamp string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Record a processing step against a batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseObject("params", procParams)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.AddProcessingStep(context.Background(), client.ProcessingStep{
			ID: procID, BatchID: procBatch, StepType: procStepType, Params: params, Timestamp: procTimestamp,
		})
		if err != nil {
			return fmt.Errorf("add processing step: %w", err)
		}
		return printRecord(rec)
	},
}

func init() {
	processCmd.Flags().StringVar(&procID, "id", "", "Processing step id")
	processCmd.Flags().StringVar(&procBatch, "batch", "", "Batch id (collection event id)")
	processCmd.Flags().StringVar(&procStepType, "step", "", "Step type (e.g. Drying)")
	processCmd.Flags().StringVar(&procParams, "params", "", `Step parameters as a JSON object (e.g. '{"temp":40}')`)
	processCmd.Flags().StringVar(&procTimestamp, "timestamp", now(), "Event timestamp")
	for _, f := range []string{"id", "batch", "step"} {
		_ = processCmd.MarkFlagRequired(f)
	}
}

// ── quality ──────────────────────────────────────────────────────────────────

var (
	qtID        string
	qtBatch     string
	qtTestType  string
	qtResults   string
	qtTimestamp string
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Record a quality test against a batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := parseObject("results", qtResults)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.AddQualityTest(context.Background(), client.QualityTest{
			ID: qtID, BatchID: qtBatch, TestType: qtTestType, Results: results, Timestamp: qtTimestamp,
		})
		if err != nil {
			return fmt.Errorf("add quality test: %w", err)
		}
		return printRecord(rec)
	},
}

func init() {
	qualityCmd.Flags().StringVar(&qtID, "id", "", "Quality test id")
	qualityCmd.Flags().StringVar(&qtBatch, "batch", "", "Batch id (collection event id)")
	qualityCmd.Flags().StringVar(&qtTestType, "test", "", "Test type (e.g. Moisture)")
	qualityCmd.Flags().StringVar(&qtResults, "results", "", `Results as a JSON object (e.g. '{"moisture":9.5}')`)
	qualityCmd.Flags().StringVar(&qtTimestamp, "timestamp", now(), "Event timestamp")
	for _, f := range []string{"id", "batch", "test"} {
		_ = qualityCmd.MarkFlagRequired(f)
	}
}

// ── package ──────────────────────────────────────────────────────────────────

var (
	pkgID        string
	pkgBatch     string
	pkgTimestamp string
	pkgLabelOut  string
)

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Package a batch and print its consumer scan URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		res, err := c.PackageProduct(ctx, client.Package{PackageID: pkgID, BatchID: pkgBatch, Timestamp: pkgTimestamp})
		if err != nil {
			return fmt.Errorf("package product: %w", err)
		}

		if pkgLabelOut != "" {
			png, err := c.Label(ctx, pkgID)
			if err != nil {
				return fmt.Errorf("download label: %w", err)
			}
			if err := os.WriteFile(pkgLabelOut, png, 0o644); err != nil { //nolint:gosec
				return fmt.Errorf("write label: %w", err)
			}
		}

		if outFormat == "json" {
			return printJSON(res)
		}
		fmt.Printf("✓ Package %s created from batch %s\n\n", res.Result.PackageID, res.Result.BatchID)
		fmt.Printf("  Scan URL: %s\n", res.ScanURL)
		if pkgLabelOut != "" {
			fmt.Printf("  Label:    %s\n", pkgLabelOut)
		}
		return nil
	},
}

func init() {
	packageCmd.Flags().StringVar(&pkgID, "id", "", "Package id")
	packageCmd.Flags().StringVar(&pkgBatch, "batch", "", "Batch id (collection event id)")
	packageCmd.Flags().StringVar(&pkgTimestamp, "timestamp", now(), "Event timestamp")
	packageCmd.Flags().StringVar(&pkgLabelOut, "label-out", "", "Write the stored QR label PNG to this file (gateway needs a label store)")
	_ = packageCmd.MarkFlagRequired("id")
	_ = packageCmd.MarkFlagRequired("batch")
}

// ── provenance ───────────────────────────────────────────────────────────────

var provenanceCmd = &cobra.Command{
	Use:   "provenance <id>",
	Short: "Show the recorded history of a batch, step, test or package id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.Provenance(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("provenance: %w", err)
		}
		if outFormat == "json" {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Printf("no visible history for %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tTX\tTYPE\tORG\tDETAIL")
		for _, e := range entries {
			rec, err := e.Decode()
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\t-\t-\t%s\n", e.Timestamp.Format(time.RFC3339), e.TxID, e.Record)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.TxID, rec.DocType, rec.Org, detail(rec))
		}
		return w.Flush()
	},
}

func detail(r *client.Record) string {
	switch r.DocType {
	case "collection":
		return fmt.Sprintf("%s by %s at %s,%s", r.Species, r.CollectorID, r.Lat, r.Lng)
	case "processing":
		return r.StepType + " " + string(r.Params)
	case "qualityTest":
		return r.TestType + " " + string(r.Results)
	case "package":
		return "batch " + r.BatchID
	}
	return ""
}
