// gen-docs writes the listener catalog (every slot with all groups active)
// to docs/listeners.yaml.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"grimm.is/switchyard/internal/activation"
	"grimm.is/switchyard/internal/listener"
)

type entry struct {
	Name        string `yaml:"name"`
	Group       string `yaml:"group"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	Protocol    string `yaml:"protocol"`
	Transparent bool   `yaml:"transparent"`
	Module      string `yaml:"module"`
	Argument    string `yaml:"argument,omitempty"`
}

type catalog struct {
	Groups    []string `yaml:"groups"`
	Listeners []entry  `yaml:"listeners"`
}

func build() catalog {
	var c catalog
	for _, g := range listener.Groups() {
		c.Groups = append(c.Groups, string(g))
	}
	all := activation.Decision{Inbound: true, Outbound: true, Probes: true, DNS: true}
	for _, s := range listener.Build(all) {
		c.Listeners = append(c.Listeners, entry{
			Name:        s.Name,
			Group:       string(s.Group),
			Address:     s.Address,
			Port:        s.Port,
			Protocol:    string(s.Protocol),
			Transparent: s.Transparent,
			Module:      s.Module,
			Argument:    s.ModuleArg,
		})
	}
	return c
}

func main() {
	path := "docs/listeners.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create dir: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	if err := enc.Encode(build()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
		os.Exit(1)
	}
	enc.Close()

	fmt.Printf("Successfully generated %s\n", path)
}
