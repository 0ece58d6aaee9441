package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"

	"github.com/loqalabs/loqa-dictation/internal/command"
	"github.com/loqalabs/loqa-dictation/internal/config"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath string
		force      bool
	)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&configPath, "file", "dictation.yaml", "Path to configuration file")
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initCmd.StringVar(&configPath, "file", "dictation.yaml", "Path to write")
	initCmd.BoolVar(&force, "force", false, "Overwrite an existing file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'init' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("config valid")
	case "init":
		initCmd.Parse(os.Args[2:])
		if err := runInit(configPath, force); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", configPath)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

// runValidate loads the file and compiles every trigger the same way the
// dispatcher does.
func runValidate(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	var errs []error
	for _, cmd := range cfg.Dictation.Commands {
		if _, err := regexp.Compile(command.Pattern(cmd.Trigger)); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", cmd.Trigger, err))
		}
	}
	return errors.Join(errs...)
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}
	cfg := config.Default()
	cfg.Dictation.Commands = config.Commands{
		{Trigger: "new line", Action: config.TypeAction("\n")},
		{Trigger: "new paragraph", Action: config.TypeAction("\n\n")},
		{Trigger: "open browser", Action: config.ExecAction("xdg-open {args}")},
	}
	return config.Save(path, cfg)
}
