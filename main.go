package main

import (
	"errors"
	"os"

	"github.com/spf13/pflag"

	"grimm.is/switchyard/cmd"
	"grimm.is/switchyard/internal/brand"
	"grimm.is/switchyard/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		if err := cmd.RunStart(os.Args[2:]); err != nil {
			exitOnError("Start failed", err)
		}

	case "check":
		if err := cmd.RunCheck(os.Args[2:]); err != nil {
			exitOnError("Check failed", err)
		}

	case "version", "--version", "-V":
		cmd.RunVersion(os.Stdout)

	case "help", "--help", "-h":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func exitOnError(what string, err error) {
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	printer.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  start     Open the sidecar listeners and serve until SIGINT/SIGTERM
            Options: --config (-c) <file>, --log-level <level>, --log-json,
                     --flow-idle-timeout <dur>, --max-conns <n>,
                     --shutdown-timeout <dur>, --socket-mark <mark>
  check     Show which listeners the configuration activates, without binding
            Options: --config (-c) <file>, --verbose (-v)
  version   Show build information

Environment:
  %s                   Configuration file path
  %s                Log level (debug, info, warn, error)
  LOCAL_DNS_PROXY                     Enable the local DNS listener
  LOCAL_DNS_PROXY_PRIMARY_UPSTREAM    First DNS upstream
  LOCAL_DNS_PROXY_SECONDARY_UPSTREAM  Second DNS upstream

Examples:
  %s start -c %s
  %s check -v sidecar.yaml
`,
		brand.Name, brand.Description,
		brand.BinaryName,
		brand.EnvVar("CONFIG"), brand.EnvVar("LOG_LEVEL"),
		brand.BinaryName, brand.GetConfigPath(),
		brand.BinaryName,
	)
}
