package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billsync/pkg/subscription"
)

var catalogPath string

// plansCmd prints the catalog without touching the environment, so it also
// works as a lint step for catalog files.
var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the plan catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := loadCatalog(catalogPath)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tPRICE\tANALYSES\tKEYWORDS\tCOMPETITORS\tSERP\tCONTENT\tAUDITS")
		for _, p := range catalog.Plans() {
			l := p.Limits
			fmt.Fprintf(w, "%s\t%s\t%d %s\t%d\t%d\t%d\t%d\t%d\t%d\n",
				p.Key, p.Name, p.Price.Amount, p.Price.Currency,
				l.Analyses, l.Keywords, l.Competitors, l.SerpTrackings, l.ContentOptimizations, l.Audits)
		}
		free := catalog.FreeLimits()
		fmt.Fprintf(w, "free\t-\t-\t%d\t%d\t%d\t%d\t%d\t%d\n",
			free.Analyses, free.Keywords, free.Competitors, free.SerpTrackings, free.ContentOptimizations, free.Audits)
		return w.Flush()
	},
}

func init() {
	plansCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML file (default: embedded catalog)")
}

func loadCatalog(path string) (*subscription.Catalog, error) {
	if path == "" {
		return subscription.DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return subscription.ParseCatalog(data)
}
