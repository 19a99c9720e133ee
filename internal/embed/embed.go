// Package embed ships the default prompts and the example configuration.
package embed

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed all:files
var Files embed.FS

// Prompt names.
const (
	PromptAgent        = "agent"
	PromptOrchestrator = "orchestrator"
)

// GetFile reads a file from the embedded filesystem
func GetFile(path string) ([]byte, error) {
	return Files.ReadFile("files/" + path)
}

// Prompt returns the named prompt. A file <overrideDir>/<name>.md takes
// precedence over the embedded copy when overrideDir is set.
func Prompt(name, overrideDir string) (string, error) {
	if overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(overrideDir, name+".md"))
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading prompt override %s: %w", name, err)
		}
	}

	data, err := GetFile("prompts/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// MustPrompt returns an embedded prompt and panics if it is missing.
func MustPrompt(name string) string {
	p, err := Prompt(name, "")
	if err != nil {
		panic(err)
	}
	return p
}

// ExtractAll extracts all embedded files to the target directory. Existing
// files are left alone unless overwrite is set.
func ExtractAll(targetDir string, overwrite bool) ([]string, error) {
	var written []string
	err := fs.WalkDir(Files, "files", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "files" {
			return nil
		}

		relPath, _ := filepath.Rel("files", path)
		targetPath := filepath.Join(targetDir, relPath)

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0755)
		}
		if !overwrite {
			if _, err := os.Stat(targetPath); err == nil {
				return nil
			}
		}

		content, err := Files.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(targetPath, content, 0644); err != nil {
			return err
		}
		written = append(written, relPath)
		return nil
	})
	return written, err
}

// ExtractFile extracts a single file to the target path
func ExtractFile(srcPath, targetPath string) error {
	content, err := GetFile(srcPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(targetPath, content, 0644)
}

// ExtractDir extracts a directory recursively to the target path
func ExtractDir(srcDir, targetDir string) error {
	srcPath := "files/" + srcDir

	return fs.WalkDir(Files, srcPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, _ := filepath.Rel(srcPath, path)
		if relPath == "." {
			return os.MkdirAll(targetDir, 0755)
		}

		targetPath := filepath.Join(targetDir, relPath)
		if d.IsDir() {
			return os.MkdirAll(targetPath, 0755)
		}

		content, err := Files.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(targetPath, content, 0644)
	})
}
