package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"tools.zach/dev/agentwatch/internal/config"
	"tools.zach/dev/agentwatch/internal/projectconfig"
)

// newLinksCmd reads and writes the links declared in a project's
// .agent-sessions.json.
func newLinksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Read or write per-project and per-session links",
	}
	cmd.AddCommand(newLinksGetCmd(a), newLinksSetCmd(a))
	return cmd
}

func newLinksGetCmd(a *app) *cobra.Command {
	var session string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "get <project-path>",
		Short: "Print the links of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}
			store := a.linkStore()
			out := cmd.OutOrStdout()

			if jsonOut {
				f := store.Get(project)
				if session != "" {
					f.SessionLinks = map[string][]projectconfig.Link{session: store.SessionLinks(project, session)}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(f)
			}

			printLinks(cmd, "project", store.ProjectLinks(project))
			if session != "" {
				printLinks(cmd, "session "+session, store.SessionLinks(project, session))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "Also print the links of this session")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the link file as JSON")
	return cmd
}

func newLinksSetCmd(a *app) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "set <project-path> [label=url ...]",
		Short: "Replace the links of a project or session",
		Long:  "Replaces the project links (or, with --session, that session's links) with the given label=url pairs. Passing no pairs clears them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}
			links, err := parseLinks(args[1:])
			if err != nil {
				return err
			}
			store := a.linkStore()
			if session != "" {
				err = store.SetSessionLinks(project, session, links)
			} else {
				err = store.SetProjectLinks(project, links)
			}
			if err != nil {
				return err
			}
			a.log.Info("links updated", "project", project, "session", session, "count", len(links))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d link(s) to %s\n", len(links), projectconfig.Path(project))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "Set the links of this session instead of the project")
	return cmd
}

// linkStore returns a store using the configured cache lifetime.
func (a *app) linkStore() *projectconfig.Store {
	return projectconfig.New(config.Seconds(a.cfg.Links.TTLSeconds))
}

// parseLinks parses label=url arguments.
func parseLinks(args []string) ([]projectconfig.Link, error) {
	links := make([]projectconfig.Link, 0, len(args))
	for _, arg := range args {
		label, url, ok := strings.Cut(arg, "=")
		label, url = strings.TrimSpace(label), strings.TrimSpace(url)
		if !ok || label == "" || url == "" {
			return nil, fmt.Errorf("invalid link %q: want label=url", arg)
		}
		links = append(links, projectconfig.Link{Label: label, URL: url})
	}
	return links, nil
}

// printLinks writes a titled list of links.
func printLinks(cmd *cobra.Command, title string, links []projectconfig.Link) {
	out := cmd.OutOrStdout()
	if len(links) == 0 {
		fmt.Fprintf(out, "%s: no links\n", title)
		return
	}
	fmt.Fprintf(out, "%s:\n", title)
	for _, l := range links {
		fmt.Fprintf(out, "  %s\t%s\n", l.Label, l.URL)
	}
}
