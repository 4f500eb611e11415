package exporter

import (
	"context"
	"fmt"
	"iter"
	"path"
	"strings"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

// WikiLister lists the direct children of a wiki node. An empty parentToken
// lists the top level of the space.
type WikiLister interface {
	ListWikiChildren(ctx context.Context, spaceID string, parentToken string) ([]feishudomain.WikiNode, error)
}

// WikiRoot is where a traversal starts. Name becomes the first path segment.
// Reserve is a name the top-level children must not take, used when the
// root node itself is exported next to them.
type WikiRoot struct {
	SpaceID   string
	NodeToken string
	Name      string
	Reserve   string
}

// WikiEntry is one node yielded by a traversal. Path is slash-separated,
// relative to the output root, and carries no extension.
type WikiEntry struct {
	Node  feishudomain.WikiNode
	Path  string
	Depth int
	// Container is set when the node's children are laid out below Path.
	Container bool
}

// WikiListError is a failed child listing. When Root is set nothing below
// the traversal root could be listed.
type WikiListError struct {
	Parent string
	Root   bool
	Err    error
}

func (e *WikiListError) Error() string {
	parent := e.Parent
	if parent == "" {
		parent = "space root"
	}
	return fmt.Sprintf("list wiki children of %s: %v", parent, e.Err)
}

func (e *WikiListError) Unwrap() error { return e.Err }

// WikiTraverser walks a knowledge space depth-first.
type WikiTraverser struct {
	Lister   WikiLister
	MaxDepth int
	Escaping string
}

// Walk lists children lazily: a node's children are requested only when the
// walk reaches it, so a consumer that stops early skips the rest of the
// space. Each node token is yielded at most once.
func (t WikiTraverser) Walk(ctx context.Context, root WikiRoot) iter.Seq2[WikiEntry, error] {
	return func(yield func(WikiEntry, error) bool) {
		type frame struct {
			parent  string
			path    string
			depth   int
			reserve string
		}

		visited := make(map[string]struct{})
		if root.NodeToken != "" {
			visited[root.NodeToken] = struct{}{}
		}
		stack := []frame{{
			parent:  root.NodeToken,
			path:    sanitizeName(root.Name, t.Escaping),
			depth:   1,
			reserve: root.Reserve,
		}}

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(WikiEntry{}, err)
				return
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			nodes, err := t.Lister.ListWikiChildren(ctx, root.SpaceID, f.parent)
			if err != nil {
				if ctx.Err() != nil {
					yield(WikiEntry{}, ctx.Err())
					return
				}
				if !yield(WikiEntry{}, &WikiListError{Parent: f.parent, Root: f.depth == 1, Err: err}) {
					return
				}
				continue
			}

			names := nameClaims{}
			if f.reserve != "" {
				names.claim(f.reserve)
			}
			var expand []frame
			for _, node := range nodes {
				if node.NodeToken == "" {
					continue
				}
				if _, seen := visited[node.NodeToken]; seen {
					continue
				}
				visited[node.NodeToken] = struct{}{}

				node.Title = strings.TrimSpace(node.Title)
				label := node.Title
				if label == "" {
					label = node.NodeToken
				}
				name := names.claim(sanitizeName(label, t.Escaping))
				entry := WikiEntry{
					Node:      node,
					Path:      path.Join(f.path, name),
					Depth:     f.depth,
					Container: node.HasChild,
				}
				if !yield(entry, nil) {
					return
				}

				if node.HasChild && (t.MaxDepth == 0 || f.depth < t.MaxDepth) {
					next := frame{parent: node.NodeToken, path: entry.Path, depth: f.depth + 1}
					if node.Exportable() {
						next.reserve = name
					}
					expand = append(expand, next)
				}
			}
			for i := len(expand) - 1; i >= 0; i-- {
				stack = append(stack, expand[i])
			}
		}
	}
}
