package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/synckit"
)

var (
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	info    = color.New(color.FgCyan).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
)

// renderPreview prints what a plan would change.
func renderPreview(w io.Writer, pv reconcile.MergePreview) {
	if pv.TotalChanges == 0 && len(pv.Conflicts) == 0 {
		fmt.Fprintln(w, dim("Nothing to change."))
		return
	}
	fmt.Fprintf(w, "%s %d change(s)\n", bold("Plan:"), pv.TotalChanges)
	section(w, "Lists to create", success("+"), pv.ListsToCreate)
	section(w, "Lists to update", info("~"), pv.ListsToUpdate)
	section(w, "Items to create", success("+"), pv.ItemsToCreate)
	section(w, "Items to update", info("~"), pv.ItemsToUpdate)

	if len(pv.Conflicts) > 0 {
		fmt.Fprintf(w, "%s\n", warning(fmt.Sprintf("Conflicts (%d):", len(pv.Conflicts))))
		for _, c := range pv.Conflicts {
			fmt.Fprintf(w, "  %s %s %s\n", warning("!"), c.Message, dim("["+c.ID+"]"))
		}
	}
}

func section(w io.Writer, title, symbol string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\n", bold(title+":"))
	for _, n := range names {
		fmt.Fprintf(w, "  %s %s\n", symbol, n)
	}
}

// renderApplied prints a committed plan.
func renderApplied(w io.Writer, res *reconcile.Result) {
	if res == nil {
		return
	}
	if res.Applied == 0 {
		fmt.Fprintf(w, "%s already up to date\n", success("✓"))
		return
	}
	kinds := make([]string, 0, len(res.ByKind))
	for _, k := range []reconcile.OpKind{
		reconcile.OpCreate, reconcile.OpUpdate, reconcile.OpArchive,
		reconcile.OpRestore, reconcile.OpDelete, reconcile.OpReorder,
	} {
		if n := res.ByKind[k]; n > 0 {
			kinds = append(kinds, fmt.Sprintf("%d %s", n, k))
		}
	}
	fmt.Fprintf(w, "%s applied %d operation(s): %s (%d conflict(s) resolved)\n",
		success("✓"), res.Applied, strings.Join(kinds, ", "), res.Conflicts)
}

// renderRun prints the outcome of an orchestrator run.
func renderRun(w io.Writer, res *synckit.Result) {
	if res == nil {
		return
	}
	switch {
	case res.Err != nil:
		fmt.Fprintf(w, "%s sync %s: %v\n", failure("✗"), res.State, res.Err)
	case res.State == synckit.StateAwaitingDecision:
		fmt.Fprintf(w, "%s %d conflict(s) need a decision\n", warning("⚠"), len(res.Pending))
	default:
		renderApplied(w, res.Applied)
		if res.Woke {
			fmt.Fprintf(w, "%s pushed merged state to remote\n", info("→"))
		}
	}
}
