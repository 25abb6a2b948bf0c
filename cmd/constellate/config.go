package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all constellate server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string                     `json:"db_path"`
	LogLevel    string                     `json:"log_level"`
	LLMProvider string                     `json:"llm_provider"` // anthropic | openai
	LLMModel    string                     `json:"llm_model"`
	Scheduler   bool                       `json:"scheduler"`
	MCPServers  map[string]MCPServerConfig `json:"mcp_servers"`
}

// MCPServerConfig describes one external MCP server whose tools are
// registered as probes under its name as namespace.
type MCPServerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(constellateDir(), "constellate.db"),
		LogLevel:    "info",
		LLMProvider: "anthropic",
		Scheduler:   true,
	}
}

func constellateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".constellate"
	}
	return filepath.Join(home, ".constellate")
}

func settingsPath() string {
	return filepath.Join(constellateDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CONSTELLATE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONSTELLATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONSTELLATE_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("CONSTELLATE_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("CONSTELLATE_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}
