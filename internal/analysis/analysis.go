// Package analysis runs lightweight static checks over generated artifacts.
// The quality check phase uses it to reject syntactically broken output
// before a project is marked complete.
package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Issue is one syntax problem found in an artifact.
type Issue struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", i.Path, i.Line, i.Column, i.Message)
}

// Analyzer parses source artifacts with tree-sitter and reports syntax
// errors. Safe for concurrent use; a mutex serializes the shared parser.
type Analyzer struct {
	mu        sync.Mutex
	parser    *sitter.Parser
	languages map[string]*sitter.Language
}

// New creates an analyzer with parsers for the languages forge agents
// generate.
func New() *Analyzer {
	return &Analyzer{
		parser: sitter.NewParser(),
		languages: map[string]*sitter.Language{
			".go":  golang.GetLanguage(),
			".js":  javascript.GetLanguage(),
			".jsx": javascript.GetLanguage(),
			".py":  python.GetLanguage(),
			".ts":  typescript.GetLanguage(),
			".tsx": typescript.GetLanguage(),
		},
	}
}

// Close releases parser resources.
func (a *Analyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parser.Close()
}

// Supports reports whether the analyzer can check files at the given path.
func (a *Analyzer) Supports(path string) bool {
	_, ok := a.languages[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Check parses content as the language implied by path's extension and
// returns any syntax issues. Unsupported extensions return no issues.
func (a *Analyzer) Check(ctx context.Context, path string, content []byte) ([]Issue, error) {
	lang, ok := a.languages[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, nil
	}

	a.mu.Lock()
	a.parser.SetLanguage(lang)
	tree, err := a.parser.ParseCtx(ctx, nil, content)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	var issues []Issue
	collectIssues(tree.RootNode(), path, content, &issues)
	return issues, nil
}

// collectIssues walks the tree for ERROR and missing nodes. Children of an
// ERROR node are skipped so one broken region reports once.
func collectIssues(n *sitter.Node, path string, content []byte, issues *[]Issue) {
	if n.IsError() {
		start := n.StartPoint()
		snippet := n.Content(content)
		if len(snippet) > 40 {
			snippet = snippet[:40] + "..."
		}
		*issues = append(*issues, Issue{
			Path:    path,
			Line:    int(start.Row) + 1,
			Column:  int(start.Column) + 1,
			Kind:    "error",
			Message: fmt.Sprintf("syntax error near %q", snippet),
		})
		return
	}
	if n.IsMissing() {
		start := n.StartPoint()
		*issues = append(*issues, Issue{
			Path:    path,
			Line:    int(start.Row) + 1,
			Column:  int(start.Column) + 1,
			Kind:    "missing",
			Message: fmt.Sprintf("missing %s", n.Type()),
		})
		return
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		collectIssues(n.Child(i), path, content, issues)
	}
}
