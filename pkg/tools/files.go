package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultMaxReadBytes = 1 << 20

// FileSandbox confines file tools to a root directory. An empty Root means
// the working directory. Symbolic links are resolved before the check, so a
// link inside the root cannot point outside it.
type FileSandbox struct {
	Root         string
	MaxReadBytes int64
}

func (s FileSandbox) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("path is empty")
	}
	dir := s.Root
	if dir == "" {
		dir = "."
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Join(root, p)
	}
	full, err = realPath(full)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside of %s", p, root)
	}
	return full, nil
}

// realPath resolves symbolic links in the longest existing prefix of p and
// appends the components that do not exist yet.
func realPath(p string) (string, error) {
	var missing []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("path %s is a dangling link", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

func (s FileSandbox) maxRead() int64 {
	if s.MaxReadBytes <= 0 {
		return defaultMaxReadBytes
	}
	return s.MaxReadBytes
}

// ReadFileTool returns the contents of a text file.
type ReadFileTool struct {
	Sandbox FileSandbox
}

func NewReadFileTool(sandbox FileSandbox) *ReadFileTool { return &ReadFileTool{Sandbox: sandbox} }

func (t *ReadFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Parameters: []Parameter{
			{Name: "file_path", Type: TypeString, Description: "Path to the file to read", Required: true},
		},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		FilePath string `mapstructure:"file_path"`
	}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	path, err := t.Sandbox.resolve(in.FilePath)
	if err != nil {
		return Fail("failed to read file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Fail("file does not exist: %s", in.FilePath)
		}
		return Fail("failed to read file: %v", err)
	}
	if info.IsDir() {
		return Fail("path is not a file: %s", in.FilePath)
	}
	f, err := os.Open(path)
	if err != nil {
		return Fail("failed to read file: %v", err)
	}
	defer f.Close()

	limit := t.Sandbox.maxRead()
	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return Fail("failed to read file: %v", err)
	}
	truncated := int64(len(content)) > limit
	if truncated {
		content = content[:limit]
	}
	return OK(map[string]any{
		"file_path": path,
		"content":   string(content),
		"size":      info.Size(),
		"truncated": truncated,
	})
}

// WriteFileTool writes or appends text to a file, creating parent
// directories as needed.
type WriteFileTool struct {
	Sandbox FileSandbox
}

func NewWriteFileTool(sandbox FileSandbox) *WriteFileTool { return &WriteFileTool{Sandbox: sandbox} }

func (t *WriteFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "write_file",
		Description: "Write content to a file",
		Parameters: []Parameter{
			{Name: "file_path", Type: TypeString, Description: "Path to the file to write", Required: true},
			{Name: "content", Type: TypeString, Description: "Content to write to the file", Required: true},
			{Name: "append", Type: TypeBoolean, Description: "Whether to append to file instead of overwriting", Default: false},
		},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		FilePath string `mapstructure:"file_path"`
		Content  string `mapstructure:"content"`
		Append   bool   `mapstructure:"append"`
	}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	path, err := t.Sandbox.resolve(in.FilePath)
	if err != nil {
		return Fail("failed to write file: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fail("failed to write file: %v", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	mode := "write"
	if in.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		mode = "append"
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Fail("failed to write file: %v", err)
	}
	n, err := f.WriteString(in.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Fail("failed to write file: %v", err)
	}
	return OK(map[string]any{
		"file_path":     path,
		"bytes_written": n,
		"mode":          mode,
	})
}

// ListDirectoryTool lists a directory, directories first.
type ListDirectoryTool struct {
	Sandbox FileSandbox
}

func NewListDirectoryTool(sandbox FileSandbox) *ListDirectoryTool {
	return &ListDirectoryTool{Sandbox: sandbox}
}

func (t *ListDirectoryTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "list_directory",
		Description: "List the contents of a directory",
		Parameters: []Parameter{
			{Name: "directory_path", Type: TypeString, Description: "Path to the directory to list", Required: true},
			{Name: "include_hidden", Type: TypeBoolean, Description: "Whether to include hidden files", Default: false},
		},
	}
}

type dirItem struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

func (t *ListDirectoryTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		DirectoryPath string `mapstructure:"directory_path"`
		IncludeHidden bool   `mapstructure:"include_hidden"`
	}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	path, err := t.Sandbox.resolve(in.DirectoryPath)
	if err != nil {
		return Fail("failed to list directory: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Fail("directory does not exist: %s", in.DirectoryPath)
		}
		return Fail("failed to list directory: %v", err)
	}
	if !info.IsDir() {
		return Fail("path is not a directory: %s", in.DirectoryPath)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Fail("failed to list directory: %v", err)
	}

	items := make([]dirItem, 0, len(entries))
	for _, e := range entries {
		if !in.IncludeHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		item := dirItem{Name: e.Name(), Path: filepath.Join(path, e.Name()), Type: "file"}
		if e.IsDir() {
			item.Type = "directory"
		} else if fi, err := e.Info(); err == nil {
			size := fi.Size()
			item.Size = &size
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if (items[i].Type == "directory") != (items[j].Type == "directory") {
			return items[i].Type == "directory"
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return OK(map[string]any{
		"directory_path": path,
		"items":          items,
		"total_count":    len(items),
	})
}
