package ledgerfile

import (
	"fmt"
	"io"
	"text/tabwriter"

	"payup/internal/core"
)

// WriteReport prints balances and transfers as aligned text.
func WriteReport(w io.Writer, name string, sum core.Summary) error {
	if name == "" {
		name = "ledger"
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(w, "%s: %d records, %s spent\n\n", name, sum.Records, sum.TotalSpent)

	fmt.Fprintln(tw, "PARTICIPANT\tBALANCE\t")
	for _, id := range sum.Balances.Participants() {
		fmt.Fprintf(tw, "%s\t%s\t\n", id, core.FormatCents(sum.Balances[id]))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if len(sum.Transfers) == 0 {
		_, err := fmt.Fprintln(w, "All settled.")
		return err
	}
	fmt.Fprintln(tw, "FROM\tTO\tAMOUNT\t")
	for _, t := range sum.Transfers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", t.From, t.To, core.FormatCents(t.Amount))
	}
	return tw.Flush()
}
