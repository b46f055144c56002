package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// headBytes bounds how much of a unit is read to find its description.
const headBytes = 4096

// Manifest is the content of a server's marker file. Every field is optional;
// an empty marker file is a valid server.
type Manifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

func (c *Catalog) manifest(server string) (Manifest, error) {
	dir, err := c.serverDir(server)
	if err != nil {
		return Manifest{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %q has no %s", ErrServerNotFound, server, MarkerFile)
		}
		return Manifest{}, fmt.Errorf("%w: reading %s manifest: %v", ErrToolDiscovery, server, err)
	}
	var m Manifest
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: parsing %s manifest: %v", ErrToolDiscovery, server, err)
	}
	m.Description = strings.TrimSpace(m.Description)
	return m, nil
}

func readHead(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// leadingDoc returns the first non-blank line of the comment block that opens
// src. Compiler directives such as //go:build are not documentation.
func leadingDoc(src string) string {
	sc := bufio.NewScanner(strings.NewReader(src))
	inBlock := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if inBlock {
			text, closed := strings.CutSuffix(line, "*/")
			if !closed {
				if i := strings.Index(line, "*/"); i >= 0 {
					text, closed = line[:i], true
				}
			}
			text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "*"))
			if text != "" {
				return text
			}
			if closed {
				return ""
			}
			continue
		}
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "//go:") || strings.HasPrefix(line, "//line "):
			continue
		case strings.HasPrefix(line, "//"):
			text := strings.TrimSpace(strings.TrimPrefix(line, "//"))
			if text != "" {
				return text
			}
		case strings.HasPrefix(line, "/*"):
			rest := strings.TrimPrefix(line, "/*")
			if i := strings.Index(rest, "*/"); i >= 0 {
				return strings.TrimSpace(rest[:i])
			}
			if text := strings.TrimSpace(rest); text != "" {
				return text
			}
			inBlock = true
		default:
			return ""
		}
	}
	return ""
}

func titleName(tool string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(tool, "_", " "))
}
