package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/reconcile"
)

// decider turns pending conflicts into a response, either from a --prefer
// flag or by asking on the terminal.
type decider struct {
	prefer string
	yes    bool
	in     io.Reader
	out    io.Writer
}

func (d decider) validate() error {
	switch d.prefer {
	case "", string(reconcile.SideLocal), string(reconcile.SideIncoming):
		return nil
	}
	return errors.WrapOpComponentKind(fmt.Errorf("--prefer must be local or incoming, got %q", d.prefer),
		string(errors.OpConfig), "cli", errors.KindInvalid)
}

func (d decider) respond(pending []reconcile.Conflict) (reconcile.Response, error) {
	if len(pending) == 0 || d.yes {
		return reconcile.Confirm(), nil
	}
	if d.prefer != "" {
		decisions := make(map[string]reconcile.Side, len(pending))
		for _, c := range pending {
			decisions[c.ID] = reconcile.Side(d.prefer)
		}
		return reconcile.Decide(decisions), nil
	}
	return d.ask(pending)
}

// ask prompts once per conflict. Skipped conflicts and conflicts left when
// input ends fall back to last write wins.
func (d decider) ask(pending []reconcile.Conflict) (reconcile.Response, error) {
	scanner := bufio.NewScanner(d.in)
	decisions := make(map[string]reconcile.Side)
	for i, c := range pending {
		fmt.Fprintf(d.out, "\n%s %s\n", warning(fmt.Sprintf("[%d/%d]", i+1, len(pending))), c.Message)
		fmt.Fprintf(d.out, "  local:    %v\n  incoming: %v\n", c.CurrentValue, c.IncomingValue)
		choice, ok := d.choose(scanner)
		if !ok {
			break
		}
		switch choice {
		case "l":
			decisions[c.ID] = reconcile.SideLocal
		case "i":
			decisions[c.ID] = reconcile.SideIncoming
		case "c":
			return reconcile.Cancel(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return reconcile.Response{}, err
	}
	return reconcile.Decide(decisions), nil
}

// choose reads until it gets a valid answer. It reports false at end of input.
func (d decider) choose(scanner *bufio.Scanner) (string, bool) {
	for {
		fmt.Fprint(d.out, "Keep [l]ocal, [i]ncoming, [s]kip, or [c]ancel? ")
		if !scanner.Scan() {
			return "", false
		}
		switch answer := strings.ToLower(strings.TrimSpace(scanner.Text())); answer {
		case "l", "local", "i", "incoming", "c", "cancel":
			return answer[:1], true
		case "s", "skip", "":
			return "s", true
		}
	}
}
