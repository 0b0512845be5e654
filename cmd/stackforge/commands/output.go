package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/stackforge/pkg/engine"
	"github.com/openfroyo/stackforge/pkg/service"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStack(w io.Writer, info *service.StackInfo) error {
	if info == nil {
		return nil
	}
	if jsonOutput {
		return printJSON(w, info)
	}

	fmt.Fprintf(w, "Stack:   %s (%s)\n", info.Name, info.ID)
	fmt.Fprintf(w, "Status:  %s\n", info.State())
	if info.StatusReason != "" {
		fmt.Fprintf(w, "Reason:  %s\n", info.StatusReason)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "About:   %s\n", info.Description)
	}

	if len(info.Resources) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RESOURCE\tTYPE\tSTATUS\tPHYSICAL ID\tREQUIRED BY")
		for _, r := range info.Resources {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.Name, r.Type, engine.State{Action: r.Action, Status: r.Status},
				r.PhysicalID, strings.Join(r.RequiredBy, ","))
		}
		tw.Flush()
	}

	if len(info.Outputs) > 0 {
		fmt.Fprintln(w)
		printOutputs(w, info.Outputs)
	}
	return nil
}

func printOutputs(w io.Writer, outputs map[string]interface{}) {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tVALUE")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%v\n", name, outputs[name])
	}
	tw.Flush()
}

func printStackList(w io.Writer, stacks []service.StackSummary) error {
	if jsonOutput {
		return printJSON(w, stacks)
	}
	if len(stacks) == 0 {
		fmt.Fprintln(w, "No stacks")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tSTATUS\tUPDATED")
	for _, s := range stacks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.Name, s.ID, engine.State{Action: s.Action, Status: s.Status},
			s.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []*engine.EventRecord) error {
	if jsonOutput {
		return printJSON(w, events)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRESOURCE\tSTATUS\tREASON")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime), ev.ResourceName,
			engine.State{Action: ev.Action, Status: ev.Status}, ev.Reason)
	}
	return tw.Flush()
}
