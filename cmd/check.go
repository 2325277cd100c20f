package cmd

import (
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"grimm.is/switchyard/internal/activation"
	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/modules"
)

// CheckOptions configures a dry composition.
type CheckOptions struct {
	commonFlags
	Verbose bool
	Env     config.Env
}

// RunCheck parses check flags and prints what start would bind.
func RunCheck(args []string) error {
	var opts CheckOptions
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	opts.commonFlags.register(fs)
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		opts.ConfigFile = fs.Arg(0)
	}
	return Check(os.Stdout, opts)
}

// Check evaluates the configuration and prints the activation decision and
// listener table without opening any socket.
func Check(w io.Writer, opts CheckOptions) error {
	if opts.Env == nil {
		opts.Env = config.OSEnv()
	}
	logger := logging.New(logging.Config{Level: logging.LevelWarn, Output: os.Stderr})

	loaded, err := loadConfig(opts.ConfigFile, logger)
	if err != nil {
		return err
	}

	decision := activation.Evaluate(loaded.Tree, opts.Env)
	specs := listener.Build(decision)

	if loaded.Format != "" {
		Printer.Fprintf(w, "Configuration: %s (%s)\n", loaded.Path, loaded.Format)
	} else {
		Printer.Fprintf(w, "Configuration: empty\n")
	}
	Printer.Fprintf(w, "Activation: %s\n\n", decision)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	Printer.Fprintln(tw, "LISTENER\tGROUP\tADDRESS\tPROTO\tMODE\tMODULE\tSTATE")
	for _, s := range specs {
		mode := "normal"
		if s.Transparent {
			mode = "transparent"
		}
		state := "bind"
		switch {
		case !s.Active:
			state = "skip (inactive)"
		case !s.Bindable():
			state = "skip (unbound)"
		}
		Printer.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.Name, s.Group, s.Addr(), s.Protocol, mode, s.Target(), state)
	}
	tw.Flush()

	bindable := len(listener.Bindable(specs))
	summary := color.New(color.FgGreen)
	if bindable == 0 {
		summary = color.New(color.FgRed)
	}
	summary.Fprint(w, Printer.Sprintf("\n%d of %d listeners would bind\n", bindable, len(specs)))

	if opts.Verbose {
		printDetails(w, loaded, decision, opts.Env)
	}
	return nil
}

func printDetails(w io.Writer, loaded *config.LoadResult, d activation.Decision, env config.Env) {
	if len(loaded.Warnings) > 0 {
		warnColor := color.New(color.FgYellow)
		Printer.Fprintln(w, "\nWarnings:")
		for _, warn := range loaded.Warnings {
			warnColor.Fprint(w, Printer.Sprintf("  - %s\n", warn))
		}
	}

	if d.Probes {
		Printer.Fprintf(w, "\nProbe scheme: %s\n", activation.ProbeScheme(loaded.Tree))
		for _, kind := range []string{listener.ArgLiveness, listener.ArgReadiness, listener.ArgStartup} {
			if t, ok := modules.LookupProbeTarget(loaded.Tree, kind); ok {
				Printer.Fprintf(w, "  %-10s -> %s\n", kind, t.URL())
			} else {
				Printer.Fprintf(w, "  %-10s -> sidecar health checker\n", kind)
			}
		}
	}

	if d.DNS {
		ups, err := modules.DNSUpstreams(env, "/etc/resolv.conf")
		if err != nil {
			Printer.Fprintf(w, "\nDNS upstreams: %v\n", err)
		} else {
			Printer.Fprintf(w, "\nDNS upstreams: %v\n", ups)
		}
	}
}
