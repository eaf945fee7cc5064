package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/plugreg/internal/logging"
	"github.com/dshills/plugreg/internal/plugin"
	"github.com/dshills/plugreg/internal/plugin/lua"
	"github.com/dshills/plugreg/internal/plugin/watch"
)

// newListCommand creates the list command.
func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [type...]",
		Short: "List registered plugins",
		Long:  `List the registered plugins of the given types, or of every type.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			types := s.reg.Types()
			if len(args) > 0 {
				types = types[:0]
				for _, t := range args {
					types = append(types, plugin.Type(t))
				}
			}

			var (
				headers []string
				rows    [][]string
				records = []map[string]string{}
			)
			for _, t := range types {
				info := s.reg.Information(t)
				headers = info.Columns()
				rows = append(rows, info.Rows()...)
				records = append(records, info.Records()...)
			}
			if len(rows) == 0 && a.opts.Output == formatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugins registered.")
				return nil
			}
			return render(cmd.OutOrStdout(), a.opts.Output, headers, rows, records)
		},
	}
}

type typeSummary struct {
	Type        string `json:"type" yaml:"type"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Plugins     int    `json:"plugins" yaml:"plugins"`
}

// newTypesCommand creates the types command.
func newTypesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List extension-point types",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			summaries := []typeSummary{}
			var rows [][]string
			for _, t := range s.reg.Types() {
				info := s.reg.TypeInfo(t)
				sum := typeSummary{
					Type:        string(t),
					Name:        info.Name,
					Description: info.Description,
					Plugins:     s.reg.Count(t),
				}
				summaries = append(summaries, sum)
				rows = append(rows, []string{sum.Type, sum.Name, strconv.Itoa(sum.Plugins)})
			}
			return render(cmd.OutOrStdout(), a.opts.Output, []string{"TYPE", "NAME", "PLUGINS"}, rows, summaries)
		},
	}
}

type resolution struct {
	Type       string `json:"type" yaml:"type"`
	ID         string `json:"id" yaml:"id"`
	Capability string `json:"capability" yaml:"capability"`
	Class      string `json:"class" yaml:"class"`
	Context    string `json:"context,omitempty" yaml:"context,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	Result     []any  `json:"result,omitempty" yaml:"result,omitempty"`
}

// newResolveCommand creates the resolve command.
func newResolveCommand(a *app) *cobra.Command {
	var call string

	cmd := &cobra.Command{
		Use:   "resolve <type> <id> <capability> [args...]",
		Short: "Resolve a plugin class",
		Long: `Resolve the class a plugin provides for a capability and show the
resulting instance. With --call, invoke a method of a Lua instance with the
remaining arguments.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			t, id, capability := plugin.Type(args[0]), args[1], plugin.Capability(args[2])
			v, err := s.reg.LoadClass(t, id, capability)
			if err != nil {
				return err
			}

			res := resolution{Type: string(t), ID: id, Capability: string(capability)}
			switch inst := v.(type) {
			case *lua.Instance:
				res.Class = inst.Class()
				res.Context = inst.ContextID()
				if call != "" {
					callArgs := make([]any, 0, len(args)-3)
					for _, arg := range args[3:] {
						callArgs = append(callArgs, arg)
					}
					if res.Result, err = inst.Call(call, callArgs...); err != nil {
						return err
					}
				} else if res.Value, err = inst.Value(); err != nil {
					return err
				}
			default:
				if call != "" {
					return fmt.Errorf("--call needs a Lua instance, got %T", v)
				}
				res.Class = fmt.Sprintf("%T", v)
				res.Value = fmt.Sprintf("%v", v)
			}

			rows := [][]string{
				{"Type", res.Type},
				{"ID", res.ID},
				{"Capability", res.Capability},
				{"Class", res.Class},
				{"Context", res.Context},
			}
			if res.Value != nil {
				rows = append(rows, []string{"Value", fmt.Sprintf("%v", res.Value)})
			}
			for i, r := range res.Result {
				rows = append(rows, []string{"Result " + strconv.Itoa(i+1), fmt.Sprintf("%v", r)})
			}
			return render(cmd.OutOrStdout(), a.opts.Output, []string{"FIELD", "VALUE"}, rows, res)
		},
	}
	cmd.Flags().StringVar(&call, "call", "", "Method to call on the resolved instance")
	return cmd
}

type domainSummary struct {
	Domain     string   `json:"domain" yaml:"domain"`
	Shared     bool     `json:"shared" yaml:"shared"`
	Generation int      `json:"generation" yaml:"generation"`
	Context    string   `json:"context,omitempty" yaml:"context,omitempty"`
	Members    []string `json:"members" yaml:"members"`
}

// newDomainsCommand creates the domains command.
func newDomainsCommand(a *app) *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List isolation domains",
		Long: `List the isolation domains and their members. Contexts are created
lazily; use --warm to create them before listing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if warm {
				for _, t := range s.reg.Types() {
					for _, d := range s.reg.Plugins(t) {
						if _, err := s.reg.ClassLoader(d); err != nil {
							a.log.Error(err, "creating context", "type", string(t), "id", d.IDs()[0])
						}
					}
				}
			}

			summaries := []domainSummary{}
			var rows [][]string
			for _, info := range s.reg.Domains() {
				sum := domainSummary{
					Domain:     info.Key.String(),
					Shared:     info.Shared,
					Generation: info.Generation,
					Context:    info.ContextID,
					Members:    info.Members,
				}
				summaries = append(summaries, sum)
				rows = append(rows, []string{
					sum.Domain,
					strconv.FormatBool(sum.Shared),
					strconv.Itoa(sum.Generation),
					sum.Context,
					strings.Join(sum.Members, ", "),
				})
			}
			return render(cmd.OutOrStdout(), a.opts.Output,
				[]string{"DOMAIN", "SHARED", "GENERATION", "CONTEXT", "MEMBERS"}, rows, summaries)
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", false, "Create every domain context first")
	return cmd
}

type inspection struct {
	Name      string            `json:"name" yaml:"name"`
	Path      string            `json:"path" yaml:"path"`
	Type      string            `json:"type,omitempty" yaml:"type,omitempty"`
	IDs       []string          `json:"ids,omitempty" yaml:"ids,omitempty"`
	Version   string            `json:"version,omitempty" yaml:"version,omitempty"`
	Group     string            `json:"group,omitempty" yaml:"group,omitempty"`
	Classes   map[string]string `json:"classes,omitempty" yaml:"classes,omitempty"`
	Libraries []string          `json:"libraries,omitempty" yaml:"libraries,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// newInspectCommand creates the inspect command.
func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Validate a plugin directory or file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			entry := s.scanner.Inspect(args[0])
			out := inspection{Name: entry.Name, Path: entry.Path}
			if entry.Err == nil {
				_, entry.Err = entry.Manifest.Descriptor()
			}
			if m := entry.Manifest; m != nil {
				out.Type = m.Type
				out.IDs = m.IDs
				out.Version = m.Version
				out.Group = m.Group
				out.Classes = m.Classes
				out.Libraries = m.LibraryPaths()
			}
			if entry.Err != nil {
				out.Error = entry.Err.Error()
			}

			rows := [][]string{
				{"Name", out.Name},
				{"Path", out.Path},
				{"Type", out.Type},
				{"IDs", strings.Join(out.IDs, ", ")},
				{"Version", out.Version},
				{"Group", out.Group},
				{"Libraries", strings.Join(out.Libraries, ", ")},
			}
			if out.Error != "" {
				rows = append(rows, []string{"Error", out.Error})
			}
			if err := render(cmd.OutOrStdout(), a.opts.Output, []string{"FIELD", "VALUE"}, rows, out); err != nil {
				return err
			}
			if entry.Err != nil {
				return fmt.Errorf("invalid plugin %s: %w", entry.Name, entry.Err)
			}
			return nil
		},
	}
}

// newWatchCommand creates the watch command.
func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload plugins as they change on disk",
		Long: `Install every plugin, then reload each plugin when its files change.
Registry events are printed as they happen. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			unsubscribe := s.reg.Subscribe(func(e plugin.Event) {
				line := fmt.Sprintf("%-16s %s/%s", e.Type, e.PluginType, e.ID)
				if e.Capability != "" {
					line += " capability=" + string(e.Capability)
				}
				if e.Domain != (plugin.DomainKey{}) {
					line += " domain=" + e.Domain.String()
				}
				fmt.Fprintln(out, line)
			})
			defer unsubscribe()

			w, err := watch.New(s.scanner.Paths(),
				watch.WithDebounce(a.cfg.Watch.Debounce.Std()),
				watch.WithLogger(logging.Component(a.log, "watch")),
			)
			if err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer w.Close()

			a.log.Info("watching plugins", "paths", w.Roots(), "installed", len(s.reloader.Installed()))
			if err := s.reloader.Run(ctx, w); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// newConfigCommand creates the config command.
func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.Output != formatTable {
				return render(cmd.OutOrStdout(), a.opts.Output, nil, nil, a.cfg)
			}
			data, err := toml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// newVersionCommand creates the version command.
func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.Output != formatTable {
				return render(cmd.OutOrStdout(), a.opts.Output, nil, nil, map[string]string{
					"version": a.build.Version,
					"commit":  a.build.Commit,
					"date":    a.build.Date,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plugreg %s\n", a.build.Version)
			fmt.Fprintf(out, "Commit: %s\n", a.build.Commit)
			fmt.Fprintf(out, "Built: %s\n", a.build.Date)
			return nil
		},
	}
}
