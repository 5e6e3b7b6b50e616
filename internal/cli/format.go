package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"mailsnooze/internal/snooze"
)

func printFolders(out io.Writer, root string, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tRELEASE IF FILED NOW\tTAG")
	for _, cat := range snooze.Categories() {
		at := cat.ReleaseAt(now)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cat.Folder(root), at.Format("Mon 2006-01-02 15:04"), snooze.ReleaseTag(at))
	}
	_ = tw.Flush()
}
