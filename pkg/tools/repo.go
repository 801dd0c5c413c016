package tools

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"devflow/pkg/logx"
)

// DefaultMaxFileSize caps file reads at 1MB.
const DefaultMaxFileSize = 1 << 20

const (
	maxKeyFiles          = 50
	maxSignaturesPerFile = 20
)

var defaultIgnores = []string{
	"__pycache__", ".git", "node_modules", ".venv", "venv",
	".next", "dist", "build", ".pytest_cache", ".mypy_cache",
	"*.pyc", "*.pyo", ".DS_Store", "*.egg-info",
}

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".go": true, ".rs": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rb": true, ".php": true,
	".swift": true, ".kt": true, ".scala": true, ".vue": true, ".svelte": true,
}

// TreeNode is one entry in the repository structure scan.
type TreeNode struct {
	Children []TreeNode `json:"children,omitempty"`
	Name     string     `json:"name"`
	Path     string     `json:"path,omitempty"`
	Type     string     `json:"type"`
	Size     int64      `json:"size,omitempty"`
}

// KeyFile is a code file surfaced by the repository scan.
type KeyFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// SearchMatch is one line hit from a text search.
type SearchMatch struct {
	Path       string `json:"path"`
	LineText   string `json:"line_content"`
	LineNumber int    `json:"line_number"`
}

// Repo provides file access rooted at a repository directory. Every path
// argument is resolved against the root and rejected if resolution escapes
// it, defending against model-generated traversal paths.
type Repo struct {
	root        string
	maxFileSize int64
	logger      *logx.Logger
}

// NewRepo creates a repository accessor. maxFileSize <= 0 selects the
// default cap.
func NewRepo(root string, maxFileSize int64) *Repo {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Repo{
		root:        root,
		maxFileSize: maxFileSize,
		logger:      logx.NewLogger("repo"),
	}
}

// Root returns the repository root path.
func (r *Repo) Root() string {
	return r.root
}

// resolve joins relPath onto the root and verifies the result stays inside
// it. Returns the absolute path or an empty string when the path escapes.
func (r *Repo) resolve(relPath string) string {
	rootAbs, err := filepath.Abs(r.root)
	if err != nil {
		return ""
	}
	if resolved, evalErr := filepath.EvalSymlinks(rootAbs); evalErr == nil {
		rootAbs = resolved
	}
	fileAbs, err := filepath.Abs(filepath.Join(rootAbs, relPath))
	if err != nil {
		return ""
	}
	// Symlinks are resolved before the containment check so a link inside
	// the repository cannot point reads or writes outside it.
	resolved, err := resolveExisting(fileAbs)
	if err != nil {
		return ""
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(os.PathSeparator)) {
		return ""
	}
	return resolved
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and rejoins the missing remainder, so paths about to be created
// still resolve. A symlink whose target does not exist is rejected rather
// than treated as a plain missing file.
func resolveExisting(path string) (string, error) {
	suffix := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if _, lerr := os.Lstat(path); lerr == nil {
			return "", fmt.Errorf("dangling symlink: %s", path)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(path), suffix)
		path = parent
	}
}

// MapRepository scans the repository structure down to maxDepth, collecting
// the file tree, the code files most relevant to the model, and extracted
// declaration signatures per key file.
func (r *Repo) MapRepository(maxDepth int) Result {
	start := time.Now()

	if info, err := os.Stat(r.root); err != nil || !info.IsDir() {
		return Failure(CodeInvalidPath, fmt.Sprintf("repository path does not exist: %s", r.root), time.Since(start))
	}
	if maxDepth <= 0 {
		maxDepth = 4
	}

	var keyFiles []KeyFile
	tree := TreeNode{
		Type:     "directory",
		Name:     filepath.Base(r.root),
		Children: r.buildTree(r.root, 0, maxDepth, &keyFiles),
	}

	sort.Slice(keyFiles, func(i, j int) bool { return keyFiles[i].Path < keyFiles[j].Path })
	if len(keyFiles) > maxKeyFiles {
		keyFiles = keyFiles[:maxKeyFiles]
	}

	signatures := make(map[string][]string)
	for _, kf := range keyFiles {
		sigs := extractSignatures(filepath.Join(r.root, kf.Path))
		if len(sigs) > 0 {
			signatures[kf.Path] = sigs
		}
	}
	r.logger.Debug("mapped repository %s: %d key files", r.root, len(keyFiles))

	return Success(map[string]any{
		"tree":        tree,
		"key_files":   keyFiles,
		"signatures":  signatures,
		"total_files": len(keyFiles),
	}, time.Since(start))
}

func (r *Repo) buildTree(dir string, depth, maxDepth int, keyFiles *[]KeyFile) []TreeNode {
	if depth > maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var nodes []TreeNode
	for _, entry := range entries {
		name := entry.Name()
		if shouldIgnore(name) {
			continue
		}
		fullPath := filepath.Join(dir, name)
		relPath, err := filepath.Rel(r.root, fullPath)
		if err != nil {
			continue
		}

		if entry.IsDir() {
			children := r.buildTree(fullPath, depth+1, maxDepth, keyFiles)
			if children != nil || depth < 2 {
				nodes = append(nodes, TreeNode{
					Type:     "directory",
					Name:     name,
					Path:     relPath,
					Children: children,
				})
			}
			continue
		}

		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		nodes = append(nodes, TreeNode{
			Type: "file",
			Name: name,
			Path: relPath,
			Size: size,
		})
		if isCodeFile(name) && size < r.maxFileSize {
			*keyFiles = append(*keyFiles, KeyFile{Path: relPath, Size: size})
		}
	}
	return nodes
}

// ReadFile reads a file within the repository, optionally limited to a
// 1-indexed inclusive line range (0 means unbounded).
func (r *Repo) ReadFile(relPath string, startLine, endLine int) Result {
	start := time.Now()

	fullPath := r.resolve(relPath)
	if fullPath == "" {
		return Failure(CodePathEscape, "file path attempts to escape repository", time.Since(start))
	}

	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return Failure(CodeFileNotFound, fmt.Sprintf("file not found: %s", relPath), time.Since(start))
	}
	if err != nil {
		return Failure(CodeReadError, err.Error(), time.Since(start))
	}
	if info.IsDir() {
		return Failure(CodeNotAFile, fmt.Sprintf("path is not a file: %s", relPath), time.Since(start))
	}
	if info.Size() > r.maxFileSize {
		return Failure(CodeFileTooLarge,
			fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), r.maxFileSize), time.Since(start))
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return Failure(CodeReadError, err.Error(), time.Since(start))
	}

	lines := strings.SplitAfter(string(raw), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	totalLines := len(lines)

	startIdx := 0
	if startLine > 0 {
		startIdx = startLine - 1
		if startIdx > totalLines {
			startIdx = totalLines
		}
	}
	endIdx := totalLines
	if endLine > 0 && endLine < totalLines {
		endIdx = endLine
	}
	if startIdx > endIdx {
		startIdx = endIdx
	}

	return Success(map[string]any{
		"content":     strings.Join(lines[startIdx:endIdx], ""),
		"path":        relPath,
		"total_lines": totalLines,
		"start_line":  startIdx + 1,
		"end_line":    endIdx,
		"size":        info.Size(),
	}, time.Since(start))
}

// WriteFile writes content to a file within the repository, creating parent
// directories as needed. The returned data reports whether the file was
// created or modified and a stable content hash.
func (r *Repo) WriteFile(relPath, content string) Result {
	start := time.Now()

	fullPath := r.resolve(relPath)
	if fullPath == "" {
		return Failure(CodePathEscape, "file path attempts to escape repository", time.Since(start))
	}

	_, statErr := os.Stat(fullPath)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Failure(CodeWriteError, err.Error(), time.Since(start))
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return Failure(CodeWriteError, err.Error(), time.Since(start))
	}

	return Success(map[string]any{
		"path":     relPath,
		"size":     len(content),
		"hash":     ContentHash(content),
		"created":  !existed,
		"modified": existed,
	}, time.Since(start))
}

// SearchText scans repository files for lines containing the query.
// filePattern optionally restricts matches by base name glob (e.g. "*.go").
func (r *Repo) SearchText(query, filePattern string, maxResults int) Result {
	start := time.Now()

	if info, err := os.Stat(r.root); err != nil || !info.IsDir() {
		return Failure(CodeInvalidPath, fmt.Sprintf("repository path does not exist: %s", r.root), time.Since(start))
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	var matches []SearchMatch
	walkErr := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if shouldIgnore(d.Name()) && path != r.root {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		if shouldIgnore(d.Name()) {
			return nil
		}
		if filePattern != "" {
			ok, matchErr := filepath.Match(filePattern, d.Name())
			if matchErr != nil || !ok {
				return nil
			}
		}
		if info, infoErr := d.Info(); infoErr != nil || info.Size() > r.maxFileSize {
			return nil
		}
		relPath, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}
		r.scanFile(path, relPath, query, maxResults, &matches)
		return nil
	})
	if walkErr != nil {
		return Failure(CodeSearchError, walkErr.Error(), time.Since(start))
	}

	return Success(map[string]any{
		"matches":       matches,
		"total_matches": len(matches),
		"query":         query,
	}, time.Since(start))
}

func (r *Repo) scanFile(path, relPath, query string, maxResults int, matches *[]SearchMatch) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.Contains(line, query) {
			*matches = append(*matches, SearchMatch{
				Path:       relPath,
				LineNumber: lineNumber,
				LineText:   strings.TrimSpace(line),
			})
			if len(*matches) >= maxResults {
				return
			}
		}
	}
}

// ContentHash returns a short stable hash of file content, used to detect
// concurrent modification between a read and a write.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func shouldIgnore(name string) bool {
	for _, pattern := range defaultIgnores {
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(name, pattern[1:]) {
				return true
			}
		} else if name == pattern {
			return true
		}
	}
	return false
}

func isCodeFile(name string) bool {
	return codeExtensions[filepath.Ext(name)]
}

var signaturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*func\s+(?:\([^)]+\)\s+)?\w+`),
	regexp.MustCompile(`^\s*type\s+\w+\s+(?:struct|interface)`),
	regexp.MustCompile(`^\s*(?:async\s+)?def\s+\w+`),
	regexp.MustCompile(`^\s*class\s+\w+`),
	regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+\w+`),
}

// extractSignatures pulls top-level declaration lines out of a code file,
// giving the model a cheap structural summary without full parsing.
func extractSignatures(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var sigs []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, pattern := range signaturePatterns {
			if pattern.MatchString(line) {
				sig := strings.TrimSpace(line)
				sig = strings.TrimSuffix(sig, "{}")
				sig = strings.TrimSuffix(sig, "{")
				sigs = append(sigs, strings.TrimSpace(sig))
				break
			}
		}
		if len(sigs) >= maxSignaturesPerFile {
			break
		}
	}
	return sigs
}
