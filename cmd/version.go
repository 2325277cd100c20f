package cmd

import (
	"io"
	"runtime"

	"grimm.is/switchyard/internal/brand"
)

// RunVersion prints build information.
func RunVersion(w io.Writer) {
	Printer.Fprintf(w, "%s %s\n", brand.Name, brand.Version)
	Printer.Fprintf(w, "  commit:  %s\n", brand.GitCommit)
	Printer.Fprintf(w, "  built:   %s\n", brand.BuildTime)
	Printer.Fprintf(w, "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
