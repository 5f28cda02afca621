package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clip-hep/samplecache/internal/bytesize"
	"github.com/clip-hep/samplecache/internal/cli/output"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache contents and quota usage",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false,
		"list every cache entry, not just the summary")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	total, err := a.catalog.TotalSize(ctx)
	if err != nil {
		return err
	}
	entries, err := a.catalog.ListEntries(ctx)
	if err != nil {
		return err
	}
	samples, err := a.catalog.ListSamples(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Site:     %s\n", a.site.Name)
	fmt.Printf("Cache:    %s\n", a.site.FileCache)
	if a.site.FileCacheSize > 0 {
		fmt.Printf("Used:     %s of %s\n",
			bytesize.ByteSize(total), a.site.FileCacheSize)
	} else {
		fmt.Printf("Used:     %s (no quota)\n", bytesize.ByteSize(total))
	}
	fmt.Printf("Entries:  %d\n", len(entries))
	fmt.Printf("Samples:  %d\n", len(samples))

	if !statusAll || len(entries) == 0 {
		return nil
	}

	fmt.Println()
	table := output.NewTable("KEY", "SIZE", "STAGED", "PINNED", "LAST ACCESS")
	for _, e := range entries {
		table.AddRow(
			e.LogicalKey,
			bytesize.ByteSize(e.SizeBytes).String(),
			strconv.FormatBool(e.Staged),
			strconv.FormatBool(e.Pinned),
			e.LastAccess.Format("2006-01-02 15:04:05"),
		)
	}
	table.Render(os.Stdout)
	return nil
}
