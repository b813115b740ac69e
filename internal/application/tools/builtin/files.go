package builtin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	defaultMaxFileBytes   = 1 << 20
	defaultSearchResults  = 50
	maxSearchResults      = 500
	maxContentMatchLength = 200
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

type fileTools struct {
	root     string
	maxBytes int64
}

func newFileTools(root string, maxBytes int64) (*fileTools, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve file tool root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	return &fileTools{root: abs, maxBytes: maxBytes}, nil
}

// resolve maps a user supplied path onto the root, refusing anything that
// escapes it.
func (f *fileTools) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	var target string
	if filepath.IsAbs(p) {
		target = filepath.Clean(p)
	} else {
		target = filepath.Join(f.root, p)
	}
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		target = resolved
	}
	rel, err := filepath.Rel(f.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalidArgs("path %q is outside %s", p, f.root)
	}
	return target, nil
}

func (f *fileTools) searchTool() Tool {
	return Tool{
		Name:        "search_files",
		Description: "Finds files by name pattern and optionally by content below the workspace root.",
		Category:    "filesystem",
		Tags:        []string{"file", "search", "find"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob matched against file names, e.g. '*.go'",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search, relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Only return files containing this text",
				},
				"max_results": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": maxSearchResults,
				},
			},
			"required": []any{"pattern"},
		},
		Execute: f.search,
	}
}

type fileMatch struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Line int    `json:"line,omitempty"`
	Text string `json:"text,omitempty"`
}

func (f *fileTools) search(ctx context.Context, args map[string]any) (any, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return nil, err
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, invalidArgs("bad pattern %q: %v", pattern, err)
	}
	dir, _ := args["path"].(string)
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	limit := min(max(intArg(args, "max_results", defaultSearchResults), 1), maxSearchResults)

	var matches []fileMatch
	truncated := false
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != base && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); !ok {
			return nil
		}
		m := fileMatch{Path: f.relative(path)}
		if info, err := d.Info(); err == nil {
			m.Size = info.Size()
		}
		if content != "" {
			line, text, found := grepFile(path, content, f.maxBytes)
			if !found {
				return nil
			}
			m.Line, m.Text = line, text
		}
		if len(matches) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		matches = append(matches, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"root":      f.root,
		"pattern":   pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, nil
}

func (f *fileTools) relative(path string) string {
	if rel, err := filepath.Rel(f.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// grepFile returns the first line of path containing needle.
func grepFile(path, needle string, limit int64) (int, string, bool) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", false
	}
	defer file.Close()

	scanner := bufio.NewScanner(io.LimitReader(file, limit))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if strings.Contains(line, needle) {
			line = strings.TrimSpace(line)
			if len(line) > maxContentMatchLength {
				line = line[:maxContentMatchLength]
			}
			return n, line, true
		}
	}
	return 0, "", false
}

func (f *fileTools) readTool() Tool {
	return Tool{
		Name:        "read_file",
		Description: "Reads a text file below the workspace root.",
		Category:    "filesystem",
		Tags:        []string{"file", "read"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path, relative to the workspace root",
				},
				"max_bytes": map[string]any{
					"type":    "integer",
					"minimum": 1,
				},
			},
			"required": []any{"path"},
		},
		Execute: f.read,
	}
}

func (f *fileTools) read(_ context.Context, args map[string]any) (any, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	target, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	limit := int64(intArg(args, "max_bytes", int(f.maxBytes)))
	if limit <= 0 || limit > f.maxBytes {
		limit = f.maxBytes
	}

	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, invalidArgs("file %q does not exist", p)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, invalidArgs("%q is a directory", p)
	}

	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if !utf8.Valid(data) {
		return nil, invalidArgs("%q is not a text file", p)
	}

	return map[string]any{
		"path":      f.relative(target),
		"size":      info.Size(),
		"content":   string(data),
		"truncated": info.Size() > int64(len(data)),
	}, nil
}
