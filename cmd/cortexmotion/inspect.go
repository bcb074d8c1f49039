package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexmotion/internal/avatar3d"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/retarget"
)

type inspectReport struct {
	Avatar   string            `json:"avatar" yaml:"avatar"`
	Bones    int               `json:"bones" yaml:"bones"`
	Humanoid map[string]string `json:"humanoid" yaml:"humanoid"`
	Channels []string          `json:"channels" yaml:"channels"`
	Visemes  map[string]string `json:"visemes" yaml:"visemes"`
	Clips    []retarget.Report `json:"clips,omitempty" yaml:"clips,omitempty"`
	Failed   map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <avatar> [clip...]",
		Short: "Show an avatar's rig and how clips retarget onto it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")

			av, err := loadAvatar(args[0])
			if err != nil {
				return err
			}
			loader := clip.NewLoader(clip.RetryPolicy{Attempts: 1}, zerolog.Nop())
			mapper := retarget.NewMapper(cfg.Engine.Repair, zerolog.Nop())
			report := buildReport(cmd.Context(), args[0], av, args[1:], loader, mapper)
			return writeReport(cmd.OutOrStdout(), report, format)
		},
	}
	cmd.Flags().StringP("format", "f", "text", "output format: text, yaml or json")
	return cmd
}

func buildReport(ctx context.Context, path string, av *avatar, clipPaths []string, loader *clip.Loader, mapper *retarget.Mapper) *inspectReport {
	r := &inspectReport{
		Avatar:   path,
		Bones:    len(av.Skeleton.Bones()),
		Humanoid: make(map[string]string),
		Channels: av.Channels,
		Visemes:  make(map[string]string),
	}
	for _, b := range av.Skeleton.Bones() {
		if b.Human != "" {
			r.Humanoid[string(b.Human)] = b.Name
		}
	}
	for v, ch := range avatar3d.ResolveVisemes(av.Channels) {
		r.Visemes[v.String()] = ch
	}

	for _, p := range clipPaths {
		c, err := loader.Load(ctx, p)
		if err == nil {
			var bound *retarget.BoundClip
			if bound, err = mapper.Bind(c, av.Skeleton); err == nil {
				r.Clips = append(r.Clips, bound.Report)
				continue
			}
		}
		if r.Failed == nil {
			r.Failed = make(map[string]string)
		}
		r.Failed[p] = err.Error()
	}
	return r
}

func writeReport(w io.Writer, r *inspectReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(r)
	case "text", "":
		writeText(w, r)
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeText(w io.Writer, r *inspectReport) {
	fmt.Fprintln(w, titleStyle.Render(r.Avatar))
	fmt.Fprintf(w, "  Bones:    %d (%d humanoid)\n", r.Bones, len(r.Humanoid))
	fmt.Fprintf(w, "  Channels: %s\n", dimStyle.Render(strings.Join(r.Channels, ", ")))

	visemes := make([]string, 0, len(r.Visemes))
	for v, ch := range r.Visemes {
		visemes = append(visemes, v+"="+ch)
	}
	sort.Strings(visemes)
	if len(visemes) == 0 {
		fmt.Fprintln(w, "  Visemes:  "+warnStyle.Render("none, lip-sync unavailable"))
	} else {
		fmt.Fprintf(w, "  Visemes:  %s\n", strings.Join(visemes, " "))
	}

	for _, c := range r.Clips {
		fmt.Fprintln(w)
		fmt.Fprintln(w, successStyle.Render("✓ "+c.Clip))
		fmt.Fprintf(w, "  Tracks:   %d of %d kept\n", len(c.Kept), c.Source)
		reasons := make([]string, 0, len(c.Dropped))
		for reason := range c.Dropped {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(w, "  Dropped:  %-18s %d\n", reason, len(c.Dropped[retarget.DropReason(reason)]))
		}
		fmt.Fprintf(w, "  Repair:   %d flipped, %d damped\n", c.Repair.Flipped, c.Repair.Damped)
	}

	failed := make([]string, 0, len(r.Failed))
	for p := range r.Failed {
		failed = append(failed, p)
	}
	sort.Strings(failed)
	for _, p := range failed {
		fmt.Fprintln(w)
		fmt.Fprintln(w, warnStyle.Render("✗ "+p))
		fmt.Fprintf(w, "  %s\n", dimStyle.Render(r.Failed[p]))
	}
}
