package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "nwbbatch"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage nwbbatch configuration.

Running bare 'nwbbatch config' is the same as 'nwbbatch config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# nwbbatch configuration
# See: nwbbatch config show (for effective values and sources)

# Directory holding the session folders (required)
base_path: "{{ .BasePath }}"

# Appended to <base_path>/<session> to name each output file (default: .nwb)
output_suffix: "{{ .OutputSuffix }}"

# Sessions converted at once (default: 1)
concurrency: {{ .Concurrency }}

# Write small stub outputs for a quick test (default: false)
stub: {{ .Stub }}

# Per-session conversion timeout, e.g. 30m (default: 0s, no timeout)
task_timeout: {{ .TaskTimeout }}

# State/data directory (default: ~/.config/nwbbatch)
# state_dir: {{ .StateDir }}

# SQLite run history path (default: ~/.config/nwbbatch/nwbbatch.db)
# db_path: {{ .DBPath }}

# Sessions, relative to base_path. Companion lists are parallel to primary;
# an empty entry means the session has no such source.
sessions:
  primary_kind: {{ .PrimaryKind }}
  primary: []
  #   - TowersTask/PoissonBlocksReboot_cohort1_VRTrain6_E75_2020-01-15_12-22-39
  companions: []
  #   - kind: rawRecording
  #     suffix: .imec0.ap.bin
  #     optional: true
  #     ids:
  #       - Neuropixels/E75_2020-01-15_g0_t0

# Session names to leave out
exclude: []

# Metadata layers. Session overrides win over batch overrides; fields read
# from the source named by "inspect" win over both.
metadata:
  batch: {}
  #   subject:
  #     species: Rattus norvegicus
  sessions: []
  #   - name: PoissonBlocksReboot_cohort1_VRTrain6_E75_2020-01-15_12-22-39
  #     subject:
  #       subject_id: E75
  inspect: "{{ .Inspect }}"

# External converter invoked as: <command> <args...> metadata|inspect|convert
engine:
  command: "{{ .EngineCommand }}"
  args: []
`

type configTemplateData struct {
	BasePath      string
	OutputSuffix  string
	Concurrency   int
	Stub          bool
	TaskTimeout   string
	StateDir      string
	DBPath        string
	PrimaryKind   string
	Inspect       string
	EngineCommand string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		BasePath:      viper.GetString("base_path"),
		OutputSuffix:  viper.GetString("output_suffix"),
		Concurrency:   viper.GetInt("concurrency"),
		Stub:          viper.GetBool("stub"),
		TaskTimeout:   viper.GetDuration("task_timeout").String(),
		StateDir:      viper.GetString("state_dir"),
		DBPath:        viper.GetString("db_path"),
		PrimaryKind:   viper.GetString("sessions.primary_kind"),
		Inspect:       viper.GetString("metadata.inspect"),
		EngineCommand: viper.GetString("engine.command"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "base_path", EnvVar: "NWBBATCH_BASE_PATH"},
	{Key: "output_suffix", EnvVar: "NWBBATCH_OUTPUT_SUFFIX"},
	{Key: "concurrency", EnvVar: "NWBBATCH_CONCURRENCY"},
	{Key: "stub", EnvVar: "NWBBATCH_STUB"},
	{Key: "task_timeout", EnvVar: "NWBBATCH_TASK_TIMEOUT"},
	{Key: "state_dir", EnvVar: "NWBBATCH_STATE_DIR"},
	{Key: "db_path", EnvVar: "NWBBATCH_DB_PATH"},
	{Key: "sessions.primary_kind", EnvVar: "NWBBATCH_SESSIONS_PRIMARY_KIND"},
	{Key: "metadata.inspect", EnvVar: "NWBBATCH_METADATA_INSPECT"},
	{Key: "engine.command", EnvVar: "NWBBATCH_ENGINE_COMMAND"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	fmt.Fprintln(ui.Out)
	cfg, err := loadConfig()
	if err != nil {
		ui.Warning("Configuration is not valid: %v", err)
		return nil
	}
	ui.Success("Configuration is valid: %d sessions, %d excluded", len(cfg.Sessions.Primary), len(cfg.Exclude))
	if err := cfg.RequireEngine(); err != nil {
		ui.Warning("%v", err)
	}
	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'nwbbatch config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
