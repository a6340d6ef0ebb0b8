package recordings

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/export"
	"github.com/coral-mesh/stacktape/pkg/recording"
)

type showOptions struct {
	format     string
	location   string
	filter     string
	kinds      []string
	top        int
	tree       bool
	minPercent float64
	hot        float64
}

// NewShowCmd creates the 'show' command.
func NewShowCmd() *cobra.Command {
	opts := showOptions{}

	cmd := &cobra.Command{
		Use:   "show <recording>",
		Short: "Summarize a recording",
		Long: `Print a recording's summary, its most expensive call sites, resource
usage and markers. With --tree the calls are folded into a call tree.

Examples:
  stacktape show billing/2024_03_01_10_00_00
  stacktape show billing/2024_03_01_10_00_00 --tree --min-percent 2
  stacktape show billing/2024_03_01_10_00_00 --filter 'call.duration_ms > 50'
  stacktape show billing/2024_03_01_10_00_00 --kind warn --kind error -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, showFormats)
	helpers.AddStorageFlag(cmd, &opts.location)
	helpers.AddFilterFlag(cmd, &opts.filter)
	cmd.Flags().StringSliceVar(&opts.kinds, "kind", nil, "Only show markers of these kinds (info, warn, debug, error)")
	cmd.Flags().IntVar(&opts.top, "top", 10, "Number of call sites to list")
	cmd.Flags().BoolVar(&opts.tree, "tree", false, "Render the call tree")
	cmd.Flags().Float64Var(&opts.minPercent, "min-percent", 1, "Collapse tree nodes below this share of the total")
	cmd.Flags().Float64Var(&opts.hot, "hot", 0.1, "Self-time fraction at which a tree node is marked hot")
	return cmd
}

var showFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
}

func runShow(ctx context.Context, w io.Writer, opts showOptions, ref string) error {
	if err := helpers.ValidateFormat(opts.format, showFormats); err != nil {
		return err
	}
	kinds, err := parseKinds(opts.kinds)
	if err != nil {
		return err
	}

	store, err := helpers.OpenConfiguredStore(opts.location)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Load(ctx, ref)
	if err != nil {
		return err
	}

	src := export.FromRecording(rec)
	if opts.filter != "" {
		f, err := export.NewFilter(opts.filter)
		if err != nil {
			return err
		}
		if src, err = src.Filter(f); err != nil {
			return err
		}
	}

	v := buildView(rec, src, kinds, opts.top)
	if opts.format != string(helpers.FormatTable) {
		if opts.tree {
			v.Tree = newTreeView(export.Tree(src, opts.hot))
		}
		formatter, err := helpers.NewFormatter(helpers.OutputFormat(opts.format))
		if err != nil {
			return err
		}
		return formatter.Format(v, w)
	}

	if err := writeView(w, v); err != nil {
		return err
	}
	if !opts.tree {
		return nil
	}
	root := export.Tree(src, opts.hot)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, helpers.Title("Call tree"))
	_, err = io.WriteString(w, helpers.RenderTree(callTree{root}, root.Total, opts.minPercent))
	return err
}

func parseKinds(names []string) (map[recording.MarkerKind]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make(map[recording.MarkerKind]bool, len(names))
	for _, name := range names {
		k, err := recording.ParseMarkerKind(name)
		if err != nil {
			return nil, err
		}
		kinds[k] = true
	}
	return kinds, nil
}

type view struct {
	Application string       `json:"application" yaml:"application"`
	SessionID   string       `json:"session_id" yaml:"session_id"`
	ParentID    string       `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Started     time.Time    `json:"started" yaml:"started"`
	SpanMS      int64        `json:"span_ms" yaml:"span_ms"`
	Calls       int          `json:"calls" yaml:"calls"`
	Goroutines  int          `json:"goroutines" yaml:"goroutines"`
	Statuses    int          `json:"statuses" yaml:"statuses"`
	Resources   resources    `json:"resources" yaml:"resources"`
	TopCalls    []siteView   `json:"top_calls" yaml:"top_calls"`
	Markers     []markerView `json:"markers" yaml:"markers"`
	Tree        *treeView    `json:"tree,omitempty" yaml:"tree,omitempty"`
}

type resources struct {
	AvgCPU        float64 `json:"avg_cpu_percent" yaml:"avg_cpu_percent"`
	MaxCPU        float64 `json:"max_cpu_percent" yaml:"max_cpu_percent"`
	PeakMemory    uint64  `json:"peak_memory_bytes" yaml:"peak_memory_bytes"`
	MaxGoroutines int     `json:"max_goroutines" yaml:"max_goroutines"`
}

type siteView struct {
	Name    string `json:"name" yaml:"name"`
	File    string `json:"file" yaml:"file"`
	Line    int    `json:"line" yaml:"line"`
	Count   int    `json:"count" yaml:"count"`
	TotalMS int64  `json:"total_ms" yaml:"total_ms"`
}

type markerView struct {
	AtMS    int64  `json:"at_ms" yaml:"at_ms"`
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
	Frame   string `json:"frame,omitempty" yaml:"frame,omitempty"`
}

func buildView(rec *recording.Recording, src export.Source, kinds map[recording.MarkerKind]bool, top int) view {
	full := rec.Summary()

	// Call statistics follow the filtered calls.
	filtered := recording.New(src.Application)
	filtered.AddCall(src.Calls...)
	calls := filtered.Summary()

	v := view{
		Application: rec.ApplicationName(),
		SessionID:   rec.SessionID(),
		ParentID:    rec.ParentID(),
		Started:     rec.Start(),
		SpanMS:      full.Span.Milliseconds(),
		Calls:       calls.Calls,
		Goroutines:  calls.Goroutines,
		Statuses:    full.Statuses,
		Resources:   summarizeStatuses(rec.Statuses()),
		TopCalls:    []siteView{},
		Markers:     []markerView{},
	}

	for i, st := range calls.TopSites {
		if top > 0 && i >= top {
			break
		}
		v.TopCalls = append(v.TopCalls, siteView{
			Name:    st.Site.Name,
			File:    st.Site.Filename,
			Line:    st.Site.Line,
			Count:   st.Count,
			TotalMS: st.Duration.Milliseconds(),
		})
	}

	for _, m := range src.Markers {
		if kinds != nil && !kinds[m.Kind] {
			continue
		}
		mv := markerView{AtMS: m.When.Milliseconds(), Kind: m.Kind.String(), Message: m.Message}
		if m.Stack.Len() > 0 {
			mv.Frame = m.Stack.Leaf().Name
		}
		v.Markers = append(v.Markers, mv)
	}
	return v
}

func summarizeStatuses(statuses []recording.Status) resources {
	var r resources
	if len(statuses) == 0 {
		return r
	}
	var cpu float64
	for _, s := range statuses {
		cpu += s.CPU
		r.MaxCPU = max(r.MaxCPU, s.CPU)
		r.PeakMemory = max(r.PeakMemory, s.Memory)
		r.MaxGoroutines = max(r.MaxGoroutines, s.Goroutines)
	}
	r.AvgCPU = cpu / float64(len(statuses))
	return r
}

func writeView(w io.Writer, v view) error {
	_, _ = fmt.Fprintln(w, helpers.Title(fmt.Sprintf("%s (%s)", v.Application, v.SessionID)))
	_, _ = fmt.Fprintf(w, "Started:    %s\n", v.Started.Format(time.RFC3339))
	if v.ParentID != "" {
		_, _ = fmt.Fprintf(w, "Parent:     %s\n", v.ParentID)
	}
	_, _ = fmt.Fprintf(w, "Span:       %s\n", helpers.FormatDuration(time.Duration(v.SpanMS)*time.Millisecond))
	_, _ = fmt.Fprintf(w, "Calls:      %d on %d goroutines\n", v.Calls, v.Goroutines)
	if v.Statuses > 0 {
		_, _ = fmt.Fprintf(w, "CPU:        %.0f%% avg, %.0f%% max\n", v.Resources.AvgCPU, v.Resources.MaxCPU)
		_, _ = fmt.Fprintf(w, "Memory:     %s peak\n", recording.FormatBytes(v.Resources.PeakMemory))
		_, _ = fmt.Fprintf(w, "Goroutines: %d max\n", v.Resources.MaxGoroutines)
	}

	if len(v.TopCalls) > 0 {
		rows := make([][]string, len(v.TopCalls))
		for i, s := range v.TopCalls {
			rows[i] = []string{
				s.Name,
				fmt.Sprintf("%s:%d", s.File, s.Line),
				fmt.Sprintf("%d", s.Count),
				helpers.FormatDuration(time.Duration(s.TotalMS) * time.Millisecond),
			}
		}
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, helpers.StyledTable([]string{"FUNCTION", "LOCATION", "CALLS", "TOTAL"}, rows))
	}

	if len(v.Markers) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(w)
	return helpers.RenderMarkdown(w, markersMarkdown(v.Markers))
}

// markersMarkdown lists markers by offset. Multi-line messages keep their
// first line in the list and the rest in a code block.
func markersMarkdown(markers []markerView) string {
	var b strings.Builder
	b.WriteString("## Markers\n\n")
	for _, m := range markers {
		first, rest, multiline := strings.Cut(m.Message, "\n")
		fmt.Fprintf(&b, "- **+%s** `%s` %s", helpers.FormatDuration(time.Duration(m.AtMS)*time.Millisecond), strings.ToUpper(m.Kind), first)
		if m.Frame != "" {
			fmt.Fprintf(&b, " _(in %s)_", m.Frame)
		}
		b.WriteString("\n")
		if multiline {
			b.WriteString("\n  ```\n")
			for _, line := range strings.Split(rest, "\n") {
				b.WriteString("  " + line + "\n")
			}
			b.WriteString("  ```\n")
		}
	}
	return b.String()
}
