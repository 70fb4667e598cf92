package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

func init() {
	rootCmd.AddCommand(sitesCmd)
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List configured sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := sitespec.Load(cfg.Sites.Path)
		if err != nil {
			return eris.Wrapf(err, "load sites from %s", cfg.Sites.Path)
		}

		for _, s := range specs {
			mode := "html"
			if s.API != nil {
				mode = "api"
			}
			status := ""
			if err := s.Validate(); err != nil {
				status = "  INVALID: " + err.Error()
			}
			fmt.Printf("%-20s %-5s source=%s merchant=%s country=%s%s\n",
				s.Brand, mode, s.SourceTag(), s.MerchantName(), s.Country, status)
		}
		fmt.Printf("%d sites configured\n", len(specs))
		return nil
	},
}
