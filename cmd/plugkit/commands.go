package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/bundle"
)

type command struct {
	usage            string
	summary          string
	minArgs, maxArgs int // maxArgs < 0 means unbounded
	run              func(ctx context.Context, h *host, args []string) error
}

var commandOrder = []string{"install", "uninstall", "list", "search", "info", "load", "unload", "reload", "call", "config", "run"}

var commands = map[string]command{
	"install":   {"<dir>", "install the bundle in dir", 1, 1, cmdInstall},
	"uninstall": {"<id>", "remove a plugin and its storage", 1, 1, cmdUninstall},
	"list":      {"", "list installed plugins", 0, 0, cmdList},
	"search":    {"<text>", "search name, description and author", 1, 1, cmdSearch},
	"info":      {"<id>", "show a plugin's record", 1, 1, cmdInfo},
	"load":      {"<id>", "mark a plugin active", 1, 1, cmdLoad},
	"unload":    {"<id>", "mark a plugin inactive", 1, 1, cmdUnload},
	"reload":    {"<id>", "reload a plugin, clearing error status", 1, 1, cmdReload},
	"call":      {"<id> <fn> [json-args]", "call an exported function", 2, 3, cmdCall},
	"config":    {"<id> <json>", "replace a plugin's config", 2, 2, cmdConfig},
	"run":       {"", "run active plugins until interrupted", 0, 0, cmdRun},
}

func cmdInstall(ctx context.Context, h *host, args []string) error {
	b, err := bundle.Load(args[0])
	if err != nil {
		return err
	}
	p, err := h.loader.InstallPlugin(ctx, b.Manifest, b.Code)
	if err != nil {
		return err
	}
	fmt.Fprintf(h.out, "installed %s %s (%s)\n", p.ID(), p.Manifest.Version, b.Digest[:12])
	return nil
}

func cmdUninstall(ctx context.Context, h *host, args []string) error {
	if err := h.loader.UninstallPlugin(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(h.out, "uninstalled %s\n", args[0])
	return nil
}

func cmdList(_ context.Context, h *host, _ []string) error {
	printPlugins(h, h.reg.List())
	return nil
}

func cmdSearch(_ context.Context, h *host, args []string) error {
	printPlugins(h, h.reg.Search(args[0]))
	return nil
}

func printPlugins(h *host, ps []*plugin.Plugin) {
	if len(ps) == 0 {
		fmt.Fprintln(h.out, "no plugins")
		return
	}
	tw := tabwriter.NewWriter(h.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tSTATUS\tPERMISSIONS")
	for _, p := range ps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID(), p.Manifest.Version, p.Status, p.Permissions())
	}
	_ = tw.Flush()
}

// permissionDetail is how info presents one declared permission.
type permissionDetail struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Risk        string `json:"risk"`
}

func cmdInfo(_ context.Context, h *host, args []string) error {
	p, err := h.reg.Get(args[0])
	if err != nil {
		return err
	}
	details := make([]permissionDetail, 0, len(p.Manifest.Permissions))
	for _, perm := range p.Manifest.Permissions {
		info, ok := perm.Info()
		if !ok {
			continue
		}
		details = append(details, permissionDetail{
			Name:        info.Name,
			DisplayName: info.DisplayName,
			Description: info.Description,
			Risk:        info.RiskLevel.String(),
		})
	}
	return printJSON(h, struct {
		Plugin      *plugin.Plugin     `json:"plugin"`
		Permissions []permissionDetail `json:"permissions"`
	}{p, details})
}

func cmdLoad(ctx context.Context, h *host, args []string) error {
	return h.loader.LoadPlugin(ctx, args[0])
}

func cmdUnload(ctx context.Context, h *host, args []string) error {
	// A fresh process holds no sandbox, so UnloadPlugin alone would be a
	// no-op; start the plugin first so onDeactivate runs.
	p, err := h.reg.Get(args[0])
	if err != nil {
		return err
	}
	if p.Status != plugin.StatusActive {
		return nil
	}
	if err := h.loader.LoadPlugin(ctx, p.ID()); err != nil {
		return err
	}
	return h.loader.UnloadPlugin(ctx, p.ID())
}

func cmdReload(ctx context.Context, h *host, args []string) error {
	return h.loader.ReloadPlugin(ctx, args[0])
}

// withRunning runs fn with id started. A plugin that was not persisted
// as active is stopped again afterwards and gets its previous status
// back.
func withRunning(ctx context.Context, h *host, id string, fn func() error) error {
	p, err := h.reg.Get(id)
	if err != nil {
		return err
	}
	if err := h.loader.LoadPlugin(ctx, id); err != nil {
		return err
	}
	ferr := fn()
	if p.Status == plugin.StatusActive {
		return ferr
	}
	if err := h.loader.UnloadPlugin(ctx, id); err != nil {
		h.logger.Warn("cannot stop plugin", "plugin", id, "error", err)
		return ferr
	}
	if p.Status != plugin.StatusInactive {
		if err := h.reg.UpdateStatus(ctx, id, p.Status, ""); err != nil {
			h.logger.Warn("cannot restore plugin status", "plugin", id, "status", p.Status, "error", err)
		}
	}
	return ferr
}

func cmdCall(ctx context.Context, h *host, args []string) error {
	var callArgs []any
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &callArgs); err != nil {
			return fmt.Errorf("%w: arguments must be a JSON array: %v", errUsage, err)
		}
	}
	return withRunning(ctx, h, args[0], func() error {
		v, err := h.loader.CallFunction(ctx, args[0], args[1], callArgs...)
		if err != nil {
			return err
		}
		return printJSON(h, v)
	})
}

func cmdConfig(ctx context.Context, h *host, args []string) error {
	var cfg map[string]any
	dec := json.NewDecoder(strings.NewReader(args[1]))
	dec.UseNumber()
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("%w: config must be a JSON object: %v", errUsage, err)
	}
	cfg = normalizeNumbers(cfg).(map[string]any)

	p, err := h.reg.Get(args[0])
	if err != nil {
		return err
	}
	if p.Status != plugin.StatusActive {
		_, err := h.loader.UpdateConfig(ctx, args[0], cfg)
		return err
	}
	if err := h.loader.LoadPlugin(ctx, args[0]); err != nil {
		return err
	}
	v, err := h.loader.UpdateConfig(ctx, args[0], cfg)
	if err != nil || v == nil {
		return err
	}
	return printJSON(h, v)
}

// normalizeNumbers turns json.Numbers into int64 when integral and
// float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	}
	return v
}

func printJSON(h *host, v any) error {
	enc := json.NewEncoder(h.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
