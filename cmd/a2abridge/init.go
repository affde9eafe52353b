package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/dusk-indust/a2abridge/internal/agent"
)

// mcpEntry is the .mcp.json server entry that launches this binary as a
// stdio MCP server.
type mcpEntry struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// runInit registers the agent of a profile as an MCP server in the target
// project's .mcp.json.
func runInit(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("a2abridge init", pflag.ContinueOnError)
	projectRoot := fs.String("project-root", ".", "path to the target project")
	profile := fs.String("profile", string(agent.ProfileElevenLabs), "agent profile to register")
	force := fs.Bool("force", false, "overwrite an existing entry")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if _, err := agent.NewRegistry().Lookup(agent.ProfileName(*profile)); err != nil {
		return err
	}

	abs, err := filepath.Abs(*projectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}

	name := "a2abridge-" + *profile
	entry := mcpEntry{
		Type:    "stdio",
		Command: "a2abridge",
		Args:    []string{"serve", "--serve-mcp", "--profile", *profile},
	}
	return mergeMCPConfig(filepath.Join(abs, ".mcp.json"), name, entry, *force, stdout)
}

// mergeMCPConfig creates or merges one server entry into .mcp.json, keeping
// every other key of the file.
func mergeMCPConfig(mcpPath, name string, entry mcpEntry, force bool, stdout io.Writer) error {
	doc := map[string]json.RawMessage{}
	servers := map[string]json.RawMessage{}

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
		if raw, ok := doc["mcpServers"]; ok {
			if err := json.Unmarshal(raw, &servers); err != nil {
				return fmt.Errorf("parsing %s mcpServers: %w", mcpPath, err)
			}
		}
	}

	if _, exists := servers[name]; exists && !force {
		fmt.Fprintf(stdout, "  skipped .mcp.json %s entry (exists, use --force to overwrite)\n", name)
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	servers[name] = raw
	if doc["mcpServers"], err = json.Marshal(servers); err != nil {
		return err
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}
	if err := os.WriteFile(mcpPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(stdout, "  %s .mcp.json with %s MCP server\n", action, name)
	return nil
}
