package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/yuya-takeyama/strict-site-deploy/internal/orchestrator"
)

func printStatus(w io.Writer, site string, statuses []orchestrator.ResourceStatus) {
	fmt.Fprintf(w, "%s\n", site)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range statuses {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Resource, s.State)
	}
	tw.Flush()
}
