// File operation tools, confined to a configured workspace directory.
package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// DefaultListCap bounds list_directory output.
const DefaultListCap = 200

// FileTools provides read/write/list capabilities within a workspace.
type FileTools struct {
	workspacePath string
}

// NewFileTools creates a FileTools instance rooted at workspacePath.
// If workspacePath is empty, file tools are disabled.
func NewFileTools(workspacePath string) *FileTools {
	return &FileTools{workspacePath: workspacePath}
}

// Enabled returns true if file tools are available.
func (ft *FileTools) Enabled() bool {
	return ft.workspacePath != ""
}

// ResolvePath converts a relative path to an absolute path within the
// workspace. Returns an error if the path would escape the workspace.
func (ft *FileTools) ResolvePath(path string) (string, error) {
	if ft.workspacePath == "" {
		return "", fmt.Errorf("workspace not configured")
	}

	workspaceAbs, err := filepath.Abs(ft.workspacePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Clean(filepath.Join(workspaceAbs, path))
	}

	if absPath != workspaceAbs && !strings.HasPrefix(absPath, workspaceAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	return absPath, nil
}

// RegisterFileTools adds read_file, write_file, and list_directory to
// the registry.
func RegisterFileTools(r *Registry, ft *FileTools) error {
	if !ft.Enabled() {
		return fmt.Errorf("workspace not configured")
	}

	readSpec := llm.ToolSpec{
		Name:        "read_file",
		Description: "Read a file from the workspace. Content is returned with line numbers. Use offset and limit for large files.",
		Parameters: []llm.ToolParam{
			{Name: "path", Type: "string", Required: true, Description: "File path relative to the workspace"},
			{Name: "offset", Type: "integer", Description: "1-based line to start reading from"},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines to return"},
		},
	}
	if err := r.Register(readSpec, func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		return ft.Read(ctx, path, intArg(args, "offset"), intArg(args, "limit"))
	}); err != nil {
		return err
	}

	writeSpec := llm.ToolSpec{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		Parameters: []llm.ToolParam{
			{Name: "path", Type: "string", Required: true, Description: "File path relative to the workspace"},
			{Name: "content", Type: "string", Required: true, Description: "The full file content to write"},
		},
	}
	if err := r.Register(writeSpec, func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		if err := ft.Write(ctx, path, content); err != nil {
			return "", err
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
	}); err != nil {
		return err
	}

	listSpec := llm.ToolSpec{
		Name:        "list_directory",
		Description: "Recursively list files under a workspace directory. Hidden entries are skipped; the listing is capped.",
		Parameters: []llm.ToolParam{
			{Name: "path", Type: "string", Description: "Directory relative to the workspace (default: workspace root)"},
			{Name: "max_entries", Type: "integer", Description: "Maximum entries to return (default 200)"},
		},
	}
	return r.Register(listSpec, func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		return ft.List(ctx, path, intArg(args, "max_entries"))
	})
}

// intArg extracts an integer argument decoded from JSON (float64).
func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Read reads a file, annotating each line with its line number.
func (ft *FileTools) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	absPath, err := ft.ResolvePath(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	startLine := 0
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= len(lines) {
		return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
	}

	endLine := len(lines)
	if limit > 0 && startLine+limit < endLine {
		endLine = startLine + limit
	}

	var b strings.Builder
	if startLine > 0 || endLine < len(lines) {
		fmt.Fprintf(&b, "[lines %d-%d of %d]\n", startLine+1, endLine, len(lines))
	}
	for i := startLine; i < endLine; i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i+1, lines[i])
	}

	return b.String(), nil
}

// Write writes content to a file, creating parent directories as needed.
func (ft *FileTools) Write(ctx context.Context, path, content string) error {
	absPath, err := ft.ResolvePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// List recursively lists entries under a directory, skipping hidden
// files and directories, capped at maxEntries.
func (ft *FileTools) List(ctx context.Context, path string, maxEntries int) (string, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultListCap
	}

	absPath, err := ft.ResolvePath(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", path)
		}
		return "", fmt.Errorf("failed to read directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", path)
	}

	var entries []string
	truncated := false

	err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absPath {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= maxEntries {
			truncated = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(absPath, p)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n[... listing capped at %d entries ...]", maxEntries)
	}
	return out, nil
}
