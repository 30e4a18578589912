package design

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marshal serializes the result as YAML if format is "yaml" or "yml", JSON otherwise
func Marshal(result *Result, format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		out, err := yaml.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize output: %v", err)
		}
		return out, nil
	default:
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to serialize output: %v", err)
		}
		return out, nil
	}
}

// Write serializes the result to filename. The format is picked from its extension
func Write(filename string, result *Result) ([]byte, error) {
	output, err := Marshal(result, filepath.Ext(filename))
	if err != nil {
		return nil, err
	}

	if err = os.WriteFile(filename, output, 0666); err != nil {
		return output, fmt.Errorf("failed to write the output: %v", err)
	}
	return output, nil
}
