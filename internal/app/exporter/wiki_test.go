package exporter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

func docNode(token, title string, hasChild bool) feishudomain.WikiNode {
	return feishudomain.WikiNode{
		SpaceID:   "sp",
		NodeToken: token,
		ObjToken:  "obj-" + token,
		ObjType:   feishudomain.ObjTypeDocx,
		Title:     title,
		HasChild:  hasChild,
	}
}

func sampleWiki() *fakeSource {
	src := newFakeSource()
	src.children[""] = []feishudomain.WikiNode{
		docNode("n1", "Guide", true),
		docNode("n2", "Guide", false),
		docNode("n3", "a/b", false),
		docNode("n2", "Guide again", false),
	}
	src.children["n1"] = []feishudomain.WikiNode{
		docNode("n4", "Guide", false),
		docNode("n5", "Deep", true),
	}
	src.children["n5"] = []feishudomain.WikiNode{
		docNode("n6", "Leaf", false),
		docNode("n1", "Guide", true),
	}
	return src
}

type walked struct {
	paths  []string
	depths []int
	errs   []error
}

func collect(t *testing.T, tr WikiTraverser, root WikiRoot) walked {
	t.Helper()
	var w walked
	for entry, err := range tr.Walk(context.Background(), root) {
		if err != nil {
			w.errs = append(w.errs, err)
			continue
		}
		w.paths = append(w.paths, entry.Path)
		w.depths = append(w.depths, entry.Depth)
	}
	return w
}

func TestWikiWalkNamesAndOrder(t *testing.T) {
	src := sampleWiki()
	got := collect(t, WikiTraverser{Lister: src, Escaping: "posix"}, WikiRoot{SpaceID: "sp", Name: "Team"})

	require.Empty(t, got.errs)
	assert.Equal(t, []string{
		"Team/Guide",
		"Team/Guide-2",
		"Team/a-b",
		"Team/Guide/Guide-2",
		"Team/Guide/Deep",
		"Team/Guide/Deep/Leaf",
	}, got.paths)
	assert.Equal(t, []int{1, 1, 1, 2, 2, 3}, got.depths)
	assert.Equal(t, []string{"", "n1", "n5"}, src.listedParents())
}

func TestWikiWalkHonoursMaxDepth(t *testing.T) {
	src := sampleWiki()
	got := collect(t, WikiTraverser{Lister: src, MaxDepth: 2, Escaping: "posix"}, WikiRoot{SpaceID: "sp", Name: "Team"})

	assert.Len(t, got.paths, 5)
	assert.Equal(t, []string{"", "n1"}, src.listedParents())

	src = sampleWiki()
	got = collect(t, WikiTraverser{Lister: src, MaxDepth: 1, Escaping: "posix"}, WikiRoot{SpaceID: "sp", Name: "Team"})
	assert.Len(t, got.paths, 3)
	assert.Equal(t, []string{""}, src.listedParents())
}

func TestWikiWalkStopsWhenConsumerStops(t *testing.T) {
	src := sampleWiki()
	tr := WikiTraverser{Lister: src, Escaping: "posix"}
	for entry, err := range tr.Walk(context.Background(), WikiRoot{SpaceID: "sp", Name: "Team"}) {
		require.NoError(t, err)
		assert.Equal(t, "n1", entry.Node.NodeToken)
		break
	}
	assert.Equal(t, []string{""}, src.listedParents())
}

func TestWikiWalkReportsListingErrors(t *testing.T) {
	src := sampleWiki()
	src.listErr["n1"] = errors.New("no permission")

	got := collect(t, WikiTraverser{Lister: src, Escaping: "posix"}, WikiRoot{SpaceID: "sp", Name: "Team"})
	require.Len(t, got.errs, 1)
	var listErr *WikiListError
	require.ErrorAs(t, got.errs[0], &listErr)
	assert.Equal(t, "n1", listErr.Parent)
	assert.False(t, listErr.Root)
	assert.Equal(t, []string{"Team/Guide", "Team/Guide-2", "Team/a-b"}, got.paths)

	src = sampleWiki()
	src.listErr[""] = errors.New("space not found")
	got = collect(t, WikiTraverser{Lister: src}, WikiRoot{SpaceID: "sp", Name: "Team"})
	require.Len(t, got.errs, 1)
	require.ErrorAs(t, got.errs[0], &listErr)
	assert.True(t, listErr.Root)
	assert.Empty(t, got.paths)
}

func TestWikiWalkReservesRootName(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []feishudomain.WikiNode{docNode("c1", "Handbook", false)}

	got := collect(t, WikiTraverser{Lister: src, Escaping: "posix"}, WikiRoot{SpaceID: "sp", NodeToken: "root", Name: "Handbook", Reserve: "Handbook"})
	assert.Equal(t, []string{"Handbook/Handbook-2"}, got.paths)
}

func TestWikiWalkStopsWhenCancelled(t *testing.T) {
	src := sampleWiki()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range (WikiTraverser{Lister: src}).Walk(ctx, WikiRoot{SpaceID: "sp", Name: "Team"}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
	assert.Empty(t, src.listedParents())
}
