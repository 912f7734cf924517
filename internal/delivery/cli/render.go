package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"lineagemon/config"
	"lineagemon/internal/domain"
)

// RenderTree prints the tracked process hierarchy, live records first by
// PID under each parent. Ended records still retained in the registry
// are shown with an [ENDED] marker.
func RenderTree(w io.Writer, reg *domain.LineageRegistry) {
	all := reg.All()
	if len(all) == 0 {
		fmt.Fprintln(w, "No processes tracked")
		return
	}

	children := make(map[int32][]*domain.ProcessRecord)
	var roots []*domain.ProcessRecord
	for _, rec := range all {
		_, tracked := reg.Record(rec.ParentPID)
		if rec.ParentPID <= 0 || rec.ParentPID == rec.PID || !tracked {
			roots = append(roots, rec)
			continue
		}
		children[rec.ParentPID] = append(children[rec.ParentPID], rec)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].PID < roots[j].PID })

	fmt.Fprintf(w, "Process tree (%d tracked, %d live):\n\n", len(all), len(reg.Live()))
	for _, root := range roots {
		renderBranch(w, root, children, 0, make(map[int32]bool))
	}
}

func renderBranch(w io.Writer, rec *domain.ProcessRecord, children map[int32][]*domain.ProcessRecord, depth int, visited map[int32]bool) {
	if visited[rec.PID] {
		return
	}
	visited[rec.PID] = true

	marker := ""
	if !rec.IsLive() {
		marker = " [ENDED]"
	}
	flags := ""
	if list := rec.FlagList(); len(list) > 0 {
		flags = " !" + strings.Join(list, ",")
	}
	fmt.Fprintf(w, "%s%s (PID %d, %s)%s%s\n",
		strings.Repeat("  ", depth), rec.Name, rec.PID, rec.Owner, marker, flags)

	kids := children[rec.PID]
	sort.Slice(kids, func(i, j int) bool { return kids[i].PID < kids[j].PID })
	for _, kid := range kids {
		renderBranch(w, kid, children, depth+1, visited)
	}
}

// RenderStatus prints engine statistics as a two-column table.
func RenderStatus(w io.Writer, stats map[string]interface{}) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprintf("%v", stats[k])})
	}
	table.Render()
}

// RenderConfig prints the effective configuration and whitelist.
func RenderConfig(w io.Writer, cfg *config.Config, wl *config.Whitelist) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Setting", "Value"})
	table.Append([]string{"Scan interval", cfg.ScanInterval.String()})
	table.Append([]string{"Max spawn rate", strconv.Itoa(cfg.MaxSpawnRate)})
	table.Append([]string{"Spawn window", cfg.SpawnWindow.String()})
	table.Append([]string{"Max children", strconv.Itoa(cfg.MaxChildren)})
	table.Append([]string{"Max chain depth", strconv.Itoa(cfg.MaxChainDepth)})
	table.Append([]string{"Structured sink", cfg.LogPath()})
	table.Append([]string{"Rotation size", fmt.Sprintf("%d bytes", cfg.RotationSizeBytes)})
	table.Append([]string{"Rotation backups", strconv.Itoa(cfg.RotationBackups)})
	table.Append([]string{"Tabular sink", cfg.CSVPath()})
	table.Append([]string{"Priority change detection", strconv.FormatBool(cfg.PriorityChangeEnabled)})
	table.Append([]string{"Owner change detection", strconv.FormatBool(cfg.PrivilegeChangeEnabled)})
	table.Append([]string{"Event queue size", strconv.Itoa(cfg.EventQueueSize)})
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Privilege whitelist (%s):\n", wl.Platform())
	if wl.Empty() {
		fmt.Fprintln(w, "  (empty: every elevated process is flagged)")
		return
	}
	names := make([]string, 0, len(wl.Names()))
	for name := range wl.Names() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  - %s\n", name)
	}
	for _, pattern := range wl.Patterns() {
		fmt.Fprintf(w, "  - %s (pattern)\n", pattern)
	}
}

// FormatUptime renders a duration in whole seconds for status output.
func FormatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
