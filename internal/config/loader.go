package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v2"
)

// Format identifies the encoding of a configuration document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// LoadResult contains the loaded tree and metadata about the load
type LoadResult struct {
	Tree     Node
	Format   Format
	Path     string
	Warnings []string
}

// DetectFormat guesses the format from the file extension.
// It returns "" when the extension is not recognized.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl":
		return FormatHCL
	default:
		return ""
	}
}

// LoadFile reads and decodes a configuration file. Unknown extensions are
// tried as JSON, then YAML, then HCL.
func LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	format := DetectFormat(path)
	if format != "" {
		result, err := Load(data, format, path)
		if err != nil {
			return nil, err
		}
		result.Path = path
		return result, nil
	}

	var errs []string
	for _, f := range []Format{FormatJSON, FormatYAML, FormatHCL} {
		result, err := Load(data, f, path)
		if err == nil {
			result.Path = path
			return result, nil
		}
		errs = append(errs, err.Error())
	}
	return nil, fmt.Errorf("config %s is not JSON, YAML or HCL: %s", path, strings.Join(errs, "; "))
}

// Load decodes data in the given format. An empty document yields the empty tree.
func Load(data []byte, format Format, filename string) (*LoadResult, error) {
	result := &LoadResult{Format: format}

	if len(bytes.TrimSpace(data)) == 0 {
		result.Tree = Empty()
		result.Warnings = append(result.Warnings, "configuration document is empty")
		return result, nil
	}

	var (
		raw any
		err error
	)
	switch format {
	case FormatJSON:
		raw, err = decodeJSON(data)
	case FormatYAML:
		raw, err = decodeYAML(data)
	case FormatHCL:
		raw, err = decodeHCL(data, filename)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if raw == nil {
		result.Tree = Empty()
		return result, nil
	}

	result.Tree = Wrap(raw)
	if !result.Tree.IsObject() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("configuration root is %T, not an object; all optional fields read as absent", raw))
	}
	return result, nil
}

func decodeJSON(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	return raw, nil
}

func decodeYAML(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return raw, nil
}

func decodeHCL(data []byte, filename string) (any, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}

	root := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("HCL attribute %s: %s", name, diags.Error())
		}
		decoded, err := ctyToGo(val)
		if err != nil {
			return nil, fmt.Errorf("HCL attribute %s: %w", name, err)
		}
		root[name] = decoded
	}
	return root, nil
}

// ctyToGo converts a cty value into the same shape encoding/json produces.
func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known at load time")
	}
	buf, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}
