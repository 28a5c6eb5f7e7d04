package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/sift/pkg/sift/config"
)

const envPrefix = "SIFT_"

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the sift configuration",
		Long: `Inspect and edit the sift configuration.

Settings are read from --config when given, otherwise from
$XDG_CONFIG_HOME/sift/config.yaml. Environment variables prefixed with
SIFT_ override file settings; nested keys join with underscores, e.g.
SIFT_INDEX_BACKEND=sqlite or SIFT_SCAN_HASH_SIZE_LIMIT=4GiB.`,
		// Subcommands must still run when the file fails to decode.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return showConfig(os.Stdout)
			},
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Open the configuration file in $VISUAL or $EDITOR",
			Long: `Open the configuration file in $VISUAL, then $EDITOR, then vi.
A default file is written first when none exists.`,
			Args: cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return editConfig()
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a default configuration file",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				path, created, err := config.WriteDefault()
				if err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				if created {
					printInfo("Wrote %s", path)
				} else {
					printInfo("%s already exists; use 'sift config edit' to change it", path)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				path, err := configPath()
				if err != nil {
					return err
				}
				fmt.Println(path)
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					printVerbose("%s does not exist; defaults apply", path)
				}
				return nil
			},
		},
	)
	return cmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	path, err := config.ConfigFile()
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

// showConfig prints the merged settings followed by any SIFT_ overrides.
func showConfig(w io.Writer) error {
	if _, err := config.Decode(v); err != nil {
		printError("configuration does not decode: %v", err)
	}

	source := v.ConfigFileUsed()
	if source == "" {
		source = "(none, defaults only)"
	}
	fmt.Fprintf(w, "# file: %s\n", source)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v.AllSettings()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	var overrides []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, envPrefix) {
			overrides = append(overrides, kv)
		}
	}
	if len(overrides) == 0 {
		return nil
	}
	slices.Sort(overrides)
	fmt.Fprintln(w, "\n# environment overrides")
	for _, kv := range overrides {
		fmt.Fprintf(w, "# %s\n", kv)
	}
	return nil
}

func editConfig() error {
	path, _, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	argv := editorCommand()
	printVerbose("Opening %s with %s", path, strings.Join(argv, " "))

	cmd := exec.Command(argv[0], append(argv[1:], path)...) //nolint:gosec // the user chose the editor
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// editorCommand splits $VISUAL or $EDITOR so values like "code -w" work.
func editorCommand() []string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(os.Getenv(env)); len(fields) > 0 {
			return fields
		}
	}
	return []string{"vi"}
}
