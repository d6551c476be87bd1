// Command packctl checks content packages offline: validation, a dry-run
// integration showing every remap, and shortest paths across the merged world.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
	"loreweave.ai/internal/sim/tuning"
)

type globalFlags struct {
	packages string
	state    string
	tuning   string
	verbose  bool

	limits content.Limits
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "packctl",
		Short:         "packctl - inspect and validate loreweave content packages",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.packages, "packages", "p", "./packages", "content package directory")
	root.PersistentFlags().StringVar(&g.state, "state", "", "registry.json to pin existing ids (optional)")
	root.PersistentFlags().StringVar(&g.tuning, "tuning", "", "tuning.yaml for content limits (optional)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log registry decisions to stderr")

	root.AddCommand(newValidateCmd(g), newIntegrateCmd(g), newPathCmd(g))
	return root
}

func (g *globalFlags) registry(cmd *cobra.Command) (*registry.Registry, error) {
	t, err := tuning.Load(g.tuning)
	if err != nil {
		return nil, err
	}
	g.limits = t.ContentLimits()
	cfg := registry.Config{Limits: g.limits}
	if g.verbose {
		cfg.Logger = log.New(cmd.ErrOrStderr(), "[registry] ", 0)
	}
	reg := registry.New(cfg)
	if g.state != "" {
		if _, err := session.LoadRegistryState(reg, g.state); err != nil {
			return nil, fmt.Errorf("load %s: %w", g.state, err)
		}
	}
	return reg, nil
}

func (g *globalFlags) load(cmd *cobra.Command) (*registry.Registry, registry.Report, error) {
	reg, err := g.registry(cmd)
	if err != nil {
		return nil, registry.Report{}, err
	}
	rep, err := reg.Load(commandContext(cmd), g.store())
	return reg, rep, err
}

// store must be called after registry, which loads the limits.
func (g *globalFlags) store() content.DirStore {
	s := content.NewDirStore(g.packages)
	s.MaxFileBytes = g.limits.MaxFileBytes
	return s
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate every package on its own, without merging",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := g.registry(cmd)
			if err != nil {
				return err
			}
			d, err := registry.Discover(commandContext(cmd), g.store())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bad := len(d.Rejected)
			for _, rj := range d.Rejected {
				fmt.Fprintf(out, "FAIL %s: %v\n", rj.Key, rj.Err)
			}
			for _, c := range d.Candidates {
				if err := reg.Validate(c.Package); err != nil {
					bad++
					fmt.Fprintf(out, "FAIL %s: %v\n", c.Key, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s) locations=%d digest=%s\n", c.Key, c.Package.ID(), len(c.Package.Locations()), short(c.Package.Digest))
			}
			if bad > 0 {
				return fmt.Errorf("%d package(s) failed validation", bad)
			}
			return nil
		},
	}
}

type integrationView struct {
	Package   string            `json:"package_id" yaml:"package_id"`
	Digest    string            `json:"digest" yaml:"digest"`
	Existing  bool              `json:"existing,omitempty" yaml:"existing,omitempty"`
	Passes    int               `json:"passes,omitempty" yaml:"passes,omitempty"`
	Locations map[string]string `json:"locations" yaml:"locations"`
	Remaps    []registry.Remap  `json:"remaps,omitempty" yaml:"remaps,omitempty"`
}

type rejectionView struct {
	Key     string `json:"key" yaml:"key"`
	Package string `json:"package_id,omitempty" yaml:"package_id,omitempty"`
	Error   string `json:"error" yaml:"error"`
}

type integrateReport struct {
	Integrated []integrationView `json:"integrated" yaml:"integrated"`
	Rejected   []rejectionView   `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	Dormant    []string          `json:"dormant,omitempty" yaml:"dormant,omitempty"`
}

func newIntegrateCmd(g *globalFlags) *cobra.Command {
	var (
		format string
		write  bool
	)
	cmd := &cobra.Command{
		Use:   "integrate",
		Short: "Merge all packages into one namespace and report remaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, rep, err := g.load(cmd)
			if err != nil {
				return err
			}
			view := integrateReport{Integrated: []integrationView{}}
			for _, in := range rep.Integrated {
				view.Integrated = append(view.Integrated, integrationView{
					Package:   in.Package,
					Digest:    in.Digest,
					Existing:  in.Existing,
					Passes:    in.Passes,
					Locations: in.Locations,
					Remaps:    in.Remaps,
				})
			}
			for _, rj := range rep.Rejected {
				view.Rejected = append(view.Rejected, rejectionView{Key: rj.Key, Package: rj.Package, Error: rj.Err.Error()})
			}
			for _, d := range reg.World().Dormant() {
				view.Dormant = append(view.Dormant, fmt.Sprintf("%s -> %s/%s", d.From, d.Package, d.Location))
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(view); err != nil {
					return err
				}
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(view); err != nil {
					return err
				}
				if err := enc.Close(); err != nil {
					return err
				}
			case "text", "":
				printIntegration(out, view)
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			if write {
				if g.state == "" {
					return fmt.Errorf("--write needs --state")
				}
				if err := snapshot.WriteJSON(g.state, reg.State()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", g.state)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&write, "write", false, "persist the resulting mapping to --state")
	return cmd
}

func printIntegration(w io.Writer, v integrateReport) {
	for _, in := range v.Integrated {
		fmt.Fprintf(w, "package %s digest=%s locations=%d remaps=%d\n", in.Package, short(in.Digest), len(in.Locations), len(in.Remaps))
		for _, r := range in.Remaps {
			fmt.Fprintf(w, "  %s %s -> %s (pass %d)\n", r.Kind, r.From, r.To, r.Pass)
		}
	}
	for _, rj := range v.Rejected {
		fmt.Fprintf(w, "rejected %s: %s\n", rj.Key, rj.Error)
	}
	for _, d := range v.Dormant {
		fmt.Fprintf(w, "dormant %s\n", d)
	}
}

func newPathCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Print the shortest walk between two global location ids",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := g.load(cmd)
			if err != nil {
				return err
			}
			w := reg.World()
			path, err := w.FindPath(args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, id := range path {
				fmt.Fprintf(out, "%d. %s %q [%s]\n", i, id, w.Name(id), w.Package(id))
			}
			return nil
		},
	}
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
