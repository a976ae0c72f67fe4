package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/deskconf/internal/api"
	"github.com/kalambet/deskconf/internal/config"
	"github.com/kalambet/deskconf/internal/field"
	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/tree"
)

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change saved settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show saved settings and defaults as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var view api.SettingsView
		if err := client.call(cmd.Context(), http.MethodGet, "/settings", nil, &view); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Show one setting, e.g. desktop.theme",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := getValue(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSetting(os.Stdout, v.Path, schema.FormatValue(v.Value), v.Source)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Change one setting and save it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := setValue(cmd.Context(), client, path, value)
		if err != nil {
			return err
		}

		printSuccess("Set %s = %s", v.Path, schema.FormatValue(v.Value))
		return nil
	},
}

var settingsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved revisions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return printHistory(cmd.Context(), client, os.Stdout, scope, limit)
	},
}

func init() {
	settingsHistoryCmd.Flags().String("scope", "", "only list revisions of this scope, e.g. deskconf/desktop")
	settingsHistoryCmd.Flags().Int("limit", 20, "maximum number of revisions to list")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsHistoryCmd)
}

func getValue(ctx context.Context, client *apiClient, path string) (api.ValueView, error) {
	var v api.ValueView
	err := client.call(ctx, http.MethodGet, "/settings/value?path="+url.QueryEscape(path), nil, &v)
	return v, err
}

// setValue sends value as a string. The server coerces it for typed paths.
func setValue(ctx context.Context, client *apiClient, path, value string) (api.ValueView, error) {
	var v api.ValueView
	err := client.call(ctx, http.MethodPut, "/settings/value?path="+url.QueryEscape(path), map[string]any{"value": value}, &v)
	return v, err
}

func printHistory(ctx context.Context, client *apiClient, w io.Writer, scope string, limit int) error {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	q.Set("limit", fmt.Sprint(limit))

	var revs []api.HistoryEntry
	if err := client.call(ctx, http.MethodGet, "/settings/history?"+q.Encode(), nil, &revs); err != nil {
		return err
	}

	if len(revs) == 0 {
		fmt.Fprintln(w, "No saved revisions.")
		return nil
	}
	for _, r := range revs {
		fmt.Fprintf(w, "%s  %s  %s  %d keys\n",
			colorize(colorCyan, fmt.Sprintf("#%-3d", r.Revision)),
			r.SavedAt.Local().Format("2006-01-02 15:04:05"),
			r.Scope,
			countLeaves(r.Document),
		)
	}
	return nil
}

// countLeaves counts the non-map values in t.
func countLeaves(t tree.Tree) int {
	n := 0
	for _, v := range t {
		if sub, ok := v.(map[string]any); ok {
			n += countLeaves(sub)
			continue
		}
		n++
	}
	return n
}

// --- form ---

var formCmd = &cobra.Command{
	Use:   "form",
	Short: "Print the settings form with current values",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return printForm(cmd.Context(), client, os.Stdout)
	},
}

// printForm opens a throwaway session so values are rendered exactly as an
// editor would show them.
func printForm(ctx context.Context, client *apiClient, w io.Writer) error {
	var view api.SessionView
	if err := client.call(ctx, http.MethodPost, "/sessions", nil, &view); err != nil {
		return err
	}
	defer client.call(ctx, http.MethodDelete, "/sessions/"+view.ID, nil, nil)

	for i, sec := range view.Sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, colorize(colorBold, sec.Title))
		printControls(w, sec.Controls)
	}
	return nil
}

func printControls(w io.Writer, controls []field.Control) {
	width := 0
	for _, c := range controls {
		width = max(width, len(c.Label))
	}
	for _, c := range controls {
		line := fmt.Sprintf("  %-*s  %s", width, c.Label, c.Display)
		if len(c.Options) > 0 {
			labels := make([]string, 0, len(c.Options))
			for _, o := range c.Options {
				labels = append(labels, o.Label)
			}
			line += colorize(colorDim, " ["+strings.Join(labels, ", ")+"]")
		}
		if c.ReadOnly {
			line += colorize(colorDim, " (dialog)")
		}
		fmt.Fprintf(w, "%s  %s\n", line, colorize(colorDim, c.Path))
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		keys := config.ShowAll(cfg)
		sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })
		for _, k := range keys {
			fmt.Printf("  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
