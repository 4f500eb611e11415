package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

func documentSource() *fakeSource {
	src := newFakeSource()
	src.blocks["dox1"] = []feishudomain.RawBlock{
		pageBlock("dox1", "Weekly Plan", "h", "p", "img"),
		headingBlock("h", "dox1", 2, "Goals"),
		textBlock("p", "dox1", "Ship *it*"),
		imageBlock("img", "dox1", "imgA"),
	}
	src.docInfo["dox1"] = feishudomain.DocumentInfo{DocumentID: "dox1", Title: "Weekly Plan"}
	src.media["imgA"] = feishudomain.Media{Data: pngBytes}
	return src
}

func TestExportDocument(t *testing.T) {
	src := documentSource()
	out := t.TempDir()

	res, err := Exporter{Source: src, FilenameEscaping: "posix"}.ExportDocument(context.Background(), "dox1", out)
	require.NoError(t, err)
	assert.Equal(t, "Weekly Plan.md", res.Path)
	assert.Equal(t, "Weekly Plan", res.Title)
	assert.Equal(t, []string{"Weekly Plan_assets/1.png"}, res.Assets)
	assert.Empty(t, res.Warnings)

	assert.Equal(t,
		"# Weekly Plan\n\n## Goals\n\nShip \\*it\\*\n\n![image](<Weekly Plan_assets/1.png>)\n",
		readFile(t, filepath.Join(out, "Weekly Plan.md")))
	assert.FileExists(t, filepath.Join(out, "Weekly Plan_assets", "1.png"))
}

func TestExportDocumentWithFrontMatter(t *testing.T) {
	src := documentSource()
	out := t.TempDir()

	_, err := Exporter{Source: src, FrontMatter: true, FilenameEscaping: "posix"}.ExportDocument(context.Background(), "dox1", out)
	require.NoError(t, err)

	got := readFile(t, filepath.Join(out, "Weekly Plan.md"))
	assert.True(t, strings.HasPrefix(got, "---\ntitle: Weekly Plan\nfeishu_type: docx\nfeishu_token: dox1\n---\n\n# Weekly Plan\n"), got)
}

func TestExportDocumentFallsBackToPageTitle(t *testing.T) {
	src := documentSource()
	delete(src.docInfo, "dox1")

	res, err := Exporter{Source: src, FilenameEscaping: "posix"}.ExportDocument(context.Background(), "dox1", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "Weekly Plan.md", res.Path)
}

func TestExportDocumentReportsFetchFailure(t *testing.T) {
	src := documentSource()
	src.blockErr["dox1"] = errors.New("permission denied")
	out := t.TempDir()

	res, err := Exporter{Source: src}.ExportDocument(context.Background(), "dox1", out)
	var fetchErr *feishudomain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, err, res.Err)

	entries, readErr := os.ReadDir(out)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestExportDocumentRequiresOutputDir(t *testing.T) {
	_, err := Exporter{Source: documentSource()}.ExportDocument(context.Background(), "dox1", " ")
	assert.Error(t, err)
}

func node(token, objToken, objType, title string, hasChild bool) feishudomain.WikiNode {
	return feishudomain.WikiNode{SpaceID: "sp1", NodeToken: token, ObjToken: objToken, ObjType: objType, Title: title, HasChild: hasChild}
}

func spaceSource() *fakeSource {
	src := newFakeSource()
	src.spaces["sp1"] = feishudomain.SpaceInfo{SpaceID: "sp1", Name: "Team Wiki"}

	alpha2 := node("n2", "d2", feishudomain.ObjTypeDocx, "Alpha", false)
	alpha2.ObjEditTime = "1700000000"
	src.children[""] = []feishudomain.WikiNode{
		node("n1", "d1", feishudomain.ObjTypeDocx, "Alpha", true),
		alpha2,
		node("n4", "d4", feishudomain.ObjTypeDocx, "Broken", false),
		node("n5", "s5", feishudomain.ObjTypeSheet, "Budget", false),
		node("n6", "m6", feishudomain.ObjTypeMindNote, "Mind", false),
	}
	src.children["n1"] = []feishudomain.WikiNode{
		node("n3", "d3", feishudomain.ObjTypeDocx, "Beta", false),
	}

	src.blocks["d1"] = []feishudomain.RawBlock{pageBlock("d1", "ignored", "p"), textBlock("p", "d1", "alpha body")}
	src.blocks["d2"] = []feishudomain.RawBlock{pageBlock("d2", "ignored", "p"), textBlock("p", "d2", "second alpha")}
	src.blocks["d3"] = []feishudomain.RawBlock{pageBlock("d3", "ignored", "p"), textBlock("p", "d3", "beta body")}
	src.blockErr["d4"] = errors.New("document deleted")

	src.sheets["s5"] = []feishudomain.SheetMeta{{SheetID: "s-b", Title: "B", Index: 1}, {SheetID: "s-a", Title: "A", Index: 0}}
	src.sheetValues["s5_s-a"] = [][]string{{"h1", "h2"}, {"1", "2"}}
	return src
}

func TestExportSpaceCollectsPartialFailures(t *testing.T) {
	src := spaceSource()
	out := t.TempDir()

	var events []Progress
	exp := Exporter{
		Source:           src,
		FilenameEscaping: "posix",
		Progress:         func(p Progress) { events = append(events, p) },
	}
	summary, err := exp.ExportSpace(context.Background(), SpaceRequest{SpaceID: "sp1"}, out)
	require.NoError(t, err)

	assert.Equal(t, "Team Wiki", summary.Dir)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.False(t, summary.Cancelled)
	assert.NotEmpty(t, summary.RunID)

	var paths []string
	for _, r := range summary.Results {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{
		"",
		"",
		"Team Wiki/Alpha-2.md",
		"Team Wiki/Alpha/Alpha.md",
		"Team Wiki/Alpha/Beta.md",
		"Team Wiki/Budget.md",
	}, paths)

	failures := summary.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "n4", failures[0].NodeToken)
	var fetchErr *feishudomain.FetchError
	assert.ErrorAs(t, failures[0].Err, &fetchErr)

	assert.Equal(t, "# Alpha\n\nalpha body\n", readFile(t, filepath.Join(out, "Team Wiki", "Alpha", "Alpha.md")))
	assert.Equal(t, "# Alpha\n\nsecond alpha\n", readFile(t, filepath.Join(out, "Team Wiki", "Alpha-2.md")))
	assert.Equal(t, "# Beta\n\nbeta body\n", readFile(t, filepath.Join(out, "Team Wiki", "Alpha", "Beta.md")))
	assert.Equal(t,
		"# A\n\n| h1 | h2 |\n| --- | --- |\n| 1 | 2 |\n\n---\n\n# B\n\n<!-- asset unavailable: sheet s5_s-b -->\n",
		readFile(t, filepath.Join(out, "Team Wiki", "Budget.md")))

	info, err := os.Stat(filepath.Join(out, "Team Wiki", "Alpha-2.md"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Unix(1700000000, 0)))

	require.Len(t, events, 5)
	last := events[len(events)-1]
	assert.Equal(t, 5, last.Done)
	assert.Equal(t, 1, last.Failed)
	assert.Equal(t, 5, last.Queued)
}

func TestExportSpaceWritesManifest(t *testing.T) {
	out := t.TempDir()
	summary, err := Exporter{Source: spaceSource(), FilenameEscaping: "posix"}.ExportSpace(context.Background(), SpaceRequest{SpaceID: "sp1"}, out)
	require.NoError(t, err)

	var m manifestFile
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(out, "Team Wiki", ManifestName))), &m))
	assert.Equal(t, summary.RunID, m.RunID)
	assert.Equal(t, "sp1", m.SpaceID)
	assert.Equal(t, map[string]string{
		"n1": "Team Wiki/Alpha/Alpha.md",
		"n2": "Team Wiki/Alpha-2.md",
		"n3": "Team Wiki/Alpha/Beta.md",
		"n5": "Team Wiki/Budget.md",
	}, m.Nodes)
	require.Len(t, m.Failures, 1)
	assert.Equal(t, "n4", m.Failures[0].NodeToken)
	assert.Contains(t, m.Failures[0].Error, "document deleted")
}

func TestExportSpaceKeepsListingErrorsOutOfFailures(t *testing.T) {
	src := spaceSource()
	src.listErr["n1"] = errors.New("no permission")
	out := t.TempDir()

	var events []Progress
	exp := Exporter{Source: src, FilenameEscaping: "posix", Progress: func(p Progress) { events = append(events, p) }}
	summary, err := exp.ExportSpace(context.Background(), SpaceRequest{SpaceID: "sp1"}, out)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures(), 1)
	assert.Equal(t, "n4", summary.Failures()[0].NodeToken)

	require.Len(t, summary.ListingErrors, 1)
	assert.Equal(t, "n1", summary.ListingErrors[0].Parent)
	assert.False(t, summary.ListingErrors[0].Root)
	require.Len(t, events, 4)
	assert.Equal(t, 1, events[len(events)-1].Failed)

	var m manifestFile
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(out, "Team Wiki", ManifestName))), &m))
	require.Len(t, m.Failures, 1)
	require.Len(t, m.ListingFailures, 1)
	assert.Equal(t, "n1", m.ListingFailures[0].NodeToken)
	assert.Contains(t, m.ListingFailures[0].Error, "no permission")
}

func sharedAssetSource() *fakeSource {
	src := newFakeSource()
	src.spaces["sp1"] = feishudomain.SpaceInfo{SpaceID: "sp1", Name: "Space"}
	src.children[""] = []feishudomain.WikiNode{
		node("n1", "d1", feishudomain.ObjTypeDocx, "One", false),
		node("n2", "d2", feishudomain.ObjTypeDocx, "Two", false),
	}
	src.blocks["d1"] = []feishudomain.RawBlock{
		pageBlock("d1", "One", "p", "i1"),
		{BlockID: "p", ParentID: "d1", BlockType: feishudomain.BlockTypeText, Text: payload(
			run("hi "),
			feishudomain.TextElement{MentionUser: &feishudomain.MentionUser{UserID: "ou_ann"}},
		)},
		imageBlock("i1", "d1", "shared"),
	}
	src.blocks["d2"] = []feishudomain.RawBlock{
		pageBlock("d2", "Two", "i1", "i2"),
		imageBlock("i1", "d2", "own"),
		imageBlock("i2", "d2", "shared"),
	}
	src.media["shared"] = feishudomain.Media{Data: pngBytes}
	src.media["own"] = feishudomain.Media{Data: append(slices.Clone(pngBytes), "own"...)}
	src.users["ou_ann"] = "Ann"
	src.jitter = 3 * time.Millisecond
	return src
}

// exportedFiles maps every file under dir except the manifest to its content.
func exportedFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() == ManifestName {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = readFile(t, p)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestExportSpaceAssetLayoutIsStableUnderConcurrency(t *testing.T) {
	want := map[string]string{
		"Space/One.md":           "# One\n\nhi @Ann\n\n![image](One_assets/1.png)\n",
		"Space/One_assets/1.png": string(pngBytes),
		"Space/Two.md":           "# Two\n\n![image](Two_assets/1.png)\n\n![image](Two_assets/2.png)\n",
		"Space/Two_assets/1.png": string(pngBytes) + "own",
		"Space/Two_assets/2.png": string(pngBytes),
	}

	for i := range 20 {
		src := sharedAssetSource()
		out := t.TempDir()
		summary, err := Exporter{Source: src, FilenameEscaping: "posix", Concurrency: 2}.ExportSpace(context.Background(), SpaceRequest{SpaceID: "sp1"}, out)
		require.NoError(t, err)
		require.Equal(t, 2, summary.Succeeded, "run %d", i)

		if diff := cmp.Diff(want, exportedFiles(t, out)); diff != "" {
			t.Fatalf("run %d: layout differs (-want +got):\n%s", i, diff)
		}
		assert.Equal(t, 1, src.downloadCount("shared"), "run %d", i)
		assert.Equal(t, 1, src.lookupCount("ou_ann"), "run %d", i)
	}
}

func TestExportSpaceFromParentNode(t *testing.T) {
	src := spaceSource()
	src.wikiNodes["n1"] = node("n1", "d1", feishudomain.ObjTypeDocx, "Alpha", true)
	src.children["n1"] = append(src.children["n1"], node("n7", "d2", feishudomain.ObjTypeDocx, "Alpha", false))
	out := t.TempDir()

	summary, err := Exporter{Source: src, FilenameEscaping: "posix", FrontMatter: true}.ExportSpace(context.Background(), SpaceRequest{ParentNodeToken: "n1"}, out)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", summary.Dir)
	assert.Equal(t, "sp1", summary.SpaceID)
	assert.Equal(t, 3, summary.Succeeded)

	root := readFile(t, filepath.Join(out, "Alpha", "Alpha.md"))
	assert.Contains(t, root, "feishu_node_token: n1\n")
	assert.Contains(t, root, "feishu_space_id: sp1\n")
	assert.FileExists(t, filepath.Join(out, "Alpha", "Beta.md"))
	assert.FileExists(t, filepath.Join(out, "Alpha", "Alpha-2.md"))
}

func TestExportSpaceFailsWhenRootCannotBeListed(t *testing.T) {
	src := spaceSource()
	src.listErr[""] = errors.New("forbidden")

	_, err := Exporter{Source: src}.ExportSpace(context.Background(), SpaceRequest{SpaceID: "sp1"}, t.TempDir())
	var listErr *WikiListError
	require.ErrorAs(t, err, &listErr)
	assert.True(t, listErr.Root)
}

func TestExportSpaceFailsWithoutSpaceInfo(t *testing.T) {
	_, err := Exporter{Source: spaceSource()}.ExportSpace(context.Background(), SpaceRequest{SpaceID: "missing"}, t.TempDir())
	var fetchErr *feishudomain.FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestExportSpaceStopsWhenCancelled(t *testing.T) {
	src := spaceSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := Exporter{Source: src}.ExportSpace(ctx, SpaceRequest{SpaceID: "sp1"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Empty(t, summary.Results)
}

func TestExportSpaceRunsPrettierOnSpaceDir(t *testing.T) {
	original := prettierCommandRunner
	t.Cleanup(func() { prettierCommandRunner = original })

	var gotDir string
	var gotTargets []string
	prettierCommandRunner = func(outputDir string, targets []string) error {
		gotDir = outputDir
		gotTargets = targets
		return errors.New("npx not installed")
	}

	out := t.TempDir()
	summary, err := Exporter{Source: spaceSource(), RunPrettier: true, FilenameEscaping: "posix"}.ExportSpace(context.Background(), SpaceRequest{SpaceID: "sp1"}, out)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, out, gotDir)
	assert.Equal(t, []string{"Team Wiki"}, gotTargets)
}

func TestExportSheetAndBitable(t *testing.T) {
	src := spaceSource()
	src.titles["s5"] = "Budget 2024"
	src.tables["bas1"] = []feishudomain.BitableTable{{TableID: "tbl1", Name: "Tasks"}}
	src.bitableRows["bas1_tbl1"] = [][]string{{"Task", "Owner"}, {"Ship", "Ann"}}
	out := t.TempDir()

	res, err := Exporter{Source: src, FilenameEscaping: "posix"}.ExportSheet(context.Background(), "s5", out)
	require.NoError(t, err)
	assert.Equal(t, "Budget 2024.md", res.Path)
	require.Len(t, res.Warnings, 1)

	res, err = Exporter{Source: src, FilenameEscaping: "posix"}.ExportBitable(context.Background(), "bas1", out)
	require.NoError(t, err)
	assert.Equal(t, "bas1.md", res.Path)
	assert.Equal(t, "# Tasks\n\n| Task | Owner |\n| --- | --- |\n| Ship | Ann |\n", readFile(t, filepath.Join(out, "bas1.md")))
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, clampConcurrency(0))
	assert.Equal(t, 1, clampConcurrency(1))
	assert.Equal(t, MaxConcurrency, clampConcurrency(64))
}
