// Package spectree implements the path-pattern filter that restricts a
// sync to a subtree of the source, following the same newline-delimited
// pattern-file format as a .gitignore.
package spectree

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/pkg/errors"
)

// Tree answers two questions about a spec: does a given path match it
// (IsMatching), and, for a given directory, does the spec itself know the
// set of children without consulting the filesystem (ListDir).
type Tree struct {
	wildcard bool
	matcher  *gitignore.GitIgnore
	root     *node
}

// node is one level of the component trie built from the spec's
// patterns, used to answer ListDir without touching the source.
type node struct {
	children map[string]*node
	glob     bool // this component is itself a glob; its subtree can't be enumerated without the filesystem.
}

// Wildcard returns a Tree that matches every path and always defers
// directory listing to the backend. It is the default when no spec file
// is given.
func Wildcard() *Tree {
	return &Tree{wildcard: true}
}

// Create builds a Tree from newline-delimited path patterns. A spec
// consisting of exactly the line "*" is equivalent to Wildcard().
func Create(spec string) (*Tree, error) {
	return CreateFromReader(strings.NewReader(spec))
}

// CreateFromReader is like Create but reads the pattern lines from r.
func CreateFromReader(r io.Reader) (*Tree, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading spec")
	}
	if len(lines) == 0 {
		return Wildcard(), nil
	}
	if len(lines) == 1 && lines[0] == "*" {
		return Wildcard(), nil
	}

	matcher := gitignore.CompileIgnoreLines(lines...)

	root := &node{children: map[string]*node{}}
	for _, line := range lines {
		insert(root, splitPath(line))
	}

	return &Tree{matcher: matcher, root: root}, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func insert(n *node, components []string) {
	for _, c := range components {
		child, ok := n.children[c]
		if !ok {
			child = &node{children: map[string]*node{}, glob: isGlob(c)}
			n.children[c] = child
		}
		n = child
	}
}

func isGlob(component string) bool {
	if !strings.ContainsAny(component, "*?[") {
		return false
	}
	// Confirm doublestar actually accepts it as a pattern rather than a
	// literal name containing one of those characters by coincidence.
	return doublestar.ValidatePattern(component)
}

// IsMatching reports whether p is included by the spec, or is a strict
// ancestor of some path the spec includes. The ancestor case matters
// because the walker must be able to descend through "dir2" to reach a
// pattern like "dir2/sub" even though "dir2" itself doesn't match the
// compiled gitignore-style pattern (which requires the literal
// "dir2/sub" prefix).
func (t *Tree) IsMatching(p string) bool {
	if t.wildcard {
		return true
	}
	p = strings.TrimPrefix(p, "/")
	if t.matcher.MatchesPath(p) {
		return true
	}
	return t.reachesNode(p)
}

// reachesNode reports whether every component of p can be walked
// through the pattern trie built by insert, meaning p is either an
// explicitly listed pattern or an ancestor directory of one.
func (t *Tree) reachesNode(p string) bool {
	n := t.root
	for _, c := range splitPath(p) {
		child, found := matchChild(n, c)
		if !found {
			return false
		}
		n = child
	}
	return true
}

// ListDir returns the names of the children of dir that the spec knows
// about directly, without listing the filesystem. ok is false when the
// spec can't answer authoritatively (a wildcard spec, an unmentioned
// directory, a directory the spec names with nothing below it, or one
// with a glob pattern among its children) and the caller must fall back
// to listing dir on the backend.
func (t *Tree) ListDir(dir string) (children []string, ok bool) {
	if t.wildcard {
		return nil, false
	}

	n := t.root
	for _, c := range splitPath(dir) {
		child, found := matchChild(n, c)
		if !found {
			return nil, false
		}
		n = child
	}

	if len(n.children) == 0 {
		return nil, false
	}

	names := make([]string, 0, len(n.children))
	for name, child := range n.children {
		if child.glob {
			return nil, false
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

func matchChild(n *node, name string) (*node, bool) {
	if child, ok := n.children[name]; ok {
		return child, true
	}
	for pattern, child := range n.children {
		if !child.glob {
			continue
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			return child, true
		}
	}
	return nil, false
}
