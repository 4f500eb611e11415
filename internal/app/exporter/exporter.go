package exporter

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
	"github.com/sleroq/feishu-to-markdown/internal/infra/exportfs"
)

const (
	DefaultConcurrency = 3
	MaxConcurrency     = 8

	ManifestName = ".feishu-export.json"
)

// MetaSource looks up titles and wiki metadata.
type MetaSource interface {
	DocumentInfo(ctx context.Context, docID string) (feishudomain.DocumentInfo, error)
	SpaceInfo(ctx context.Context, spaceID string) (feishudomain.SpaceInfo, error)
	WikiNode(ctx context.Context, token string) (feishudomain.WikiNode, error)
	SpreadsheetTitle(ctx context.Context, token string) (string, error)
	BitableTitle(ctx context.Context, appToken string) (string, error)
}

// Source is everything the exporter reads from Feishu.
type Source interface {
	BlockPager
	Downloader
	TableSource
	UserDirectory
	WikiLister
	MetaSource
}

type Exporter struct {
	Source           Source
	Logger           *zap.Logger
	TableFormat      string
	WithBlockIDs     bool
	FrontMatter      bool
	Concurrency      int
	MaxDepth         int
	FilenameEscaping string
	RunPrettier      bool
	// Progress is called after every finished document of a space export.
	// Calls are serialized.
	Progress func(Progress)
}

// ExportResult is the outcome of one document. Err is fatal for that
// document only; Warnings never are.
type ExportResult struct {
	DocID     string
	NodeToken string
	Title     string
	Kind      string
	Path      string
	Assets    []string
	Warnings  []error
	Err       error
	Skipped   bool
}

type SpaceRequest struct {
	SpaceID         string
	ParentNodeToken string
}

// SpaceSummary aggregates a space export. Results are sorted by path.
type SpaceSummary struct {
	RunID     string
	SpaceID   string
	Name      string
	Dir       string
	Results   []ExportResult
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled bool

	// ListingErrors are subtrees that could not be listed. They are not
	// documents and do not count towards Failed.
	ListingErrors []*WikiListError
}

// Failures returns the results that ended with an error.
func (s SpaceSummary) Failures() []ExportResult {
	var out []ExportResult
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (s *SpaceSummary) add(res ExportResult) {
	s.Results = append(s.Results, res)
	switch {
	case res.Skipped:
		s.Skipped++
	case res.Err != nil:
		s.Failed++
	default:
		s.Succeeded++
	}
}

type Progress struct {
	DocID     string
	NodeToken string
	Title     string
	OK        bool
	Warnings  int
	Done      int
	Failed    int
	Queued    int
}

type docJob struct {
	Kind      string
	Token     string
	NodeToken string
	SpaceID   string
	Title     string
	File      string
	Edited    time.Time
	Created   time.Time
}

var prettierCommandRunner = func(outputDir string, targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	args := []string{"--yes", "prettier", "--no-config", "--write", "--ignore-unknown"}
	args = append(args, targets...)
	cmd := exec.Command("npx", args...)
	cmd.Dir = outputDir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(out))
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}

// ExportDocument writes one docx document as <outputDir>/<title>.md with its
// assets in <title>_assets/.
func (e Exporter) ExportDocument(ctx context.Context, docID string, outputDir string) (ExportResult, error) {
	escaping, err := e.prepare(outputDir)
	if err != nil {
		return ExportResult{DocID: docID, Kind: feishudomain.ObjTypeDocx, Err: err}, err
	}
	res := e.exportDocx(ctx, docJob{Kind: feishudomain.ObjTypeDocx, Token: docID}, outputDir, escaping, NewAssetCache())
	return res, res.Err
}

// ExportSheet writes every worksheet of a spreadsheet into one file.
func (e Exporter) ExportSheet(ctx context.Context, token string, outputDir string) (ExportResult, error) {
	return e.exportStandaloneTables(ctx, feishudomain.ObjTypeSheet, token, outputDir)
}

// ExportBitable writes every table of a bitable app into one file.
func (e Exporter) ExportBitable(ctx context.Context, appToken string, outputDir string) (ExportResult, error) {
	return e.exportStandaloneTables(ctx, feishudomain.ObjTypeBitable, appToken, outputDir)
}

func (e Exporter) exportStandaloneTables(ctx context.Context, kind, token, outputDir string) (ExportResult, error) {
	escaping, err := e.prepare(outputDir)
	if err != nil {
		return ExportResult{DocID: token, Kind: kind, Err: err}, err
	}
	res := e.exportTables(ctx, docJob{Kind: kind, Token: token}, outputDir, escaping)
	return res, res.Err
}

// ExportSpace exports a knowledge space, or the subtree below
// req.ParentNodeToken, into <outputDir>/<space name>/. Per-document failures
// are collected in the summary; the returned error is reserved for problems
// that stop the whole run.
func (e Exporter) ExportSpace(ctx context.Context, req SpaceRequest, outputDir string) (SpaceSummary, error) {
	escaping, err := e.prepare(outputDir)
	if err != nil {
		return SpaceSummary{}, err
	}

	summary := SpaceSummary{RunID: uuid.NewString(), SpaceID: req.SpaceID}
	logger := e.logger().With(zap.String("run_id", summary.RunID))

	root := WikiRoot{SpaceID: req.SpaceID, NodeToken: req.ParentNodeToken}
	var rootJob *docJob
	if req.ParentNodeToken != "" {
		node, err := e.Source.WikiNode(ctx, req.ParentNodeToken)
		if err != nil {
			return summary, &feishudomain.FetchError{Op: "get wiki node", Token: req.ParentNodeToken, Err: err}
		}
		if root.SpaceID == "" {
			root.SpaceID = node.SpaceID
		}
		root.Name = cmp.Or(strings.TrimSpace(node.Title), node.NodeToken)
		if node.Exportable() {
			name := sanitizeName(root.Name, escaping)
			root.Reserve = name
			job := nodeJob(node, root.SpaceID, name+"/"+name+".md")
			rootJob = &job
		}
	} else {
		if root.SpaceID == "" {
			return summary, errors.New("space id or parent node token is required")
		}
		info, err := e.Source.SpaceInfo(ctx, root.SpaceID)
		if err != nil {
			return summary, &feishudomain.FetchError{Op: "get space", Token: root.SpaceID, Err: err}
		}
		root.Name = cmp.Or(strings.TrimSpace(info.Name), root.SpaceID)
	}
	summary.SpaceID = root.SpaceID
	summary.Name = root.Name
	summary.Dir = sanitizeName(root.Name, escaping)
	logger = logger.With(zap.String("space_id", root.SpaceID))
	logger.Info("exporting space", zap.String("name", root.Name), zap.String("dir", summary.Dir))

	cache := NewAssetCache()
	var (
		mu     sync.Mutex
		queued int
	)
	record := func(res ExportResult) {
		mu.Lock()
		defer mu.Unlock()
		summary.add(res)
		switch {
		case res.Skipped:
		case res.Err != nil:
			logger.Warn("document failed", zap.String("node", res.NodeToken), zap.String("title", res.Title), zap.Error(res.Err))
		default:
			logger.Debug("document exported", zap.String("node", res.NodeToken), zap.String("path", res.Path), zap.Int("warnings", len(res.Warnings)))
		}
		if e.Progress != nil && !res.Skipped {
			e.Progress(Progress{
				DocID:     res.DocID,
				NodeToken: res.NodeToken,
				Title:     res.Title,
				OK:        res.Err == nil,
				Warnings:  len(res.Warnings),
				Done:      summary.Succeeded + summary.Failed,
				Failed:    summary.Failed,
				Queued:    queued,
			})
		}
	}

	var g errgroup.Group
	g.SetLimit(clampConcurrency(e.Concurrency))
	schedule := func(job docJob) {
		mu.Lock()
		queued++
		mu.Unlock()
		g.Go(func() error {
			record(e.exportNode(ctx, job, outputDir, escaping, cache))
			return nil
		})
	}

	if rootJob != nil {
		schedule(*rootJob)
	}

	var fatal error
	traverser := WikiTraverser{Lister: e.Source, MaxDepth: e.MaxDepth, Escaping: escaping}
	for entry, err := range traverser.Walk(ctx, root) {
		if err != nil {
			var listErr *WikiListError
			if errors.As(err, &listErr) {
				if listErr.Root {
					fatal = listErr
					break
				}
				logger.Warn("wiki listing failed", zap.String("parent", listErr.Parent), zap.Error(listErr.Err))
				mu.Lock()
				summary.ListingErrors = append(summary.ListingErrors, listErr)
				mu.Unlock()
				continue
			}
			break
		}
		if ctx.Err() != nil {
			break
		}

		node := entry.Node
		if !node.Exportable() {
			if !entry.Container {
				record(ExportResult{NodeToken: node.NodeToken, DocID: node.ObjToken, Title: node.Title, Kind: node.ObjType, Skipped: true})
			}
			continue
		}
		schedule(nodeJob(node, root.SpaceID, nodeFilePath(entry.Path, entry.Container, ".md")))
	}
	_ = g.Wait()

	if fatal != nil {
		return summary, fatal
	}

	summary.Cancelled = ctx.Err() != nil
	slices.SortStableFunc(summary.Results, func(a, b ExportResult) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.NodeToken, b.NodeToken))
	})

	if err := writeManifest(outputDir, summary); err != nil {
		logger.Warn("write manifest failed", zap.Error(err))
	}
	if e.RunPrettier && !summary.Cancelled {
		if err := prettierCommandRunner(outputDir, []string{summary.Dir}); err != nil {
			logger.Warn("prettier failed", zap.Error(err))
		}
	}

	logger.Info("space export finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("cancelled", summary.Cancelled),
	)
	return summary, nil
}

func nodeJob(node feishudomain.WikiNode, spaceID string, file string) docJob {
	job := docJob{
		Kind:      node.ObjType,
		Token:     node.ObjToken,
		NodeToken: node.NodeToken,
		SpaceID:   cmp.Or(node.SpaceID, spaceID),
		Title:     node.Title,
		File:      file,
	}
	if t, ok := feishudomain.ParseEditTime(node.ObjEditTime); ok {
		job.Edited = t
	}
	if t, ok := feishudomain.ParseEditTime(node.ObjCreateTime); ok {
		job.Created = t
	}
	return job
}

func (e Exporter) exportNode(ctx context.Context, job docJob, root, escaping string, cache *AssetCache) ExportResult {
	if err := ctx.Err(); err != nil {
		return ExportResult{DocID: job.Token, NodeToken: job.NodeToken, Title: job.Title, Kind: job.Kind, Err: err}
	}
	switch job.Kind {
	case feishudomain.ObjTypeDocx:
		return e.exportDocx(ctx, job, root, escaping, cache)
	case feishudomain.ObjTypeSheet, feishudomain.ObjTypeBitable:
		return e.exportTables(ctx, job, root, escaping)
	default:
		return ExportResult{DocID: job.Token, NodeToken: job.NodeToken, Title: job.Title, Kind: job.Kind, Skipped: true}
	}
}

func (e Exporter) exportDocx(ctx context.Context, job docJob, root, escaping string, cache *AssetCache) ExportResult {
	res := ExportResult{DocID: job.Token, NodeToken: job.NodeToken, Title: job.Title, Kind: feishudomain.ObjTypeDocx}
	logger := e.logger().With(zap.String("doc_id", job.Token))

	records, err := FetchBlocks(ctx, e.Source, job.Token)
	if err != nil {
		res.Err = err
		return res
	}
	tree, warnings := BuildTree(records)
	res.Warnings = append(res.Warnings, warnings...)
	for _, w := range warnings {
		logger.Debug("repaired block tree", zap.Error(w))
	}

	if job.Title == "" {
		info, err := e.Source.DocumentInfo(ctx, job.Token)
		if err != nil {
			logger.Warn("document info unavailable, using page title", zap.Error(err))
		}
		job.Title = cmp.Or(strings.TrimSpace(info.Title), tree.Title, job.Token)
		res.Title = job.Title
	}
	if job.File == "" {
		job.File = sanitizeName(job.Title, escaping) + ".md"
	}
	tree.Title = job.Title

	resolver := AssetResolver{Downloader: e.Source, Tables: e.Source, Users: e.Source, Cache: cache, Logger: logger}
	report, err := resolver.Resolve(ctx, tree, DocPaths{Root: root, File: job.File, AssetDir: docAssetsDir(job.File)})
	res.Assets = report.Assets
	res.Warnings = append(res.Warnings, report.Warnings...)
	assetDir := filepath.Join(root, filepath.FromSlash(docAssetsDir(job.File)))
	if err != nil {
		res.Err = err
		_ = exportfs.RemoveIfEmpty(assetDir)
		return res
	}

	body := Renderer{TableFormat: e.TableFormat, WithBlockIDs: e.WithBlockIDs}.Render(tree)
	if err := e.writeDocument(job, root, body); err != nil {
		res.Err = err
		_ = exportfs.RemoveIfEmpty(assetDir)
		return res
	}
	res.Path = job.File
	return res
}

func (e Exporter) exportTables(ctx context.Context, job docJob, root, escaping string) ExportResult {
	res := ExportResult{DocID: job.Token, NodeToken: job.NodeToken, Title: job.Title, Kind: job.Kind}
	logger := e.logger().With(zap.String("token", job.Token), zap.String("kind", job.Kind))

	type section struct {
		id   string
		name string
	}
	var (
		sections []section
		fetch    func(id string) ([][]string, error)
	)
	switch job.Kind {
	case feishudomain.ObjTypeSheet:
		sheets, err := e.Source.Sheets(ctx, job.Token)
		if err != nil {
			res.Err = &feishudomain.FetchError{Op: "list sheets", Token: job.Token, Err: err}
			return res
		}
		slices.SortStableFunc(sheets, func(a, b feishudomain.SheetMeta) int { return cmp.Compare(a.Index, b.Index) })
		for _, s := range sheets {
			sections = append(sections, section{id: s.SheetID, name: cmp.Or(s.Title, s.SheetID)})
		}
		fetch = func(id string) ([][]string, error) { return e.Source.SheetValues(ctx, job.Token, id) }
	case feishudomain.ObjTypeBitable:
		tables, err := e.Source.BitableTables(ctx, job.Token)
		if err != nil {
			res.Err = &feishudomain.FetchError{Op: "list bitable tables", Token: job.Token, Err: err}
			return res
		}
		for _, t := range tables {
			sections = append(sections, section{id: t.TableID, name: cmp.Or(t.Name, t.TableID)})
		}
		fetch = func(id string) ([][]string, error) { return e.Source.BitableRows(ctx, job.Token, id, "") }
	default:
		res.Skipped = true
		return res
	}

	if job.Title == "" {
		var (
			title string
			err   error
		)
		if job.Kind == feishudomain.ObjTypeSheet {
			title, err = e.Source.SpreadsheetTitle(ctx, job.Token)
		} else {
			title, err = e.Source.BitableTitle(ctx, job.Token)
		}
		if err != nil {
			logger.Warn("title unavailable, using token", zap.Error(err))
		}
		job.Title = cmp.Or(strings.TrimSpace(title), job.Token)
		res.Title = job.Title
	}
	if job.File == "" {
		job.File = sanitizeName(job.Title, escaping) + ".md"
	}

	renderer := Renderer{TableFormat: e.TableFormat}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		rows, err := fetch(s.id)
		table := ""
		if err != nil {
			if ctx.Err() != nil {
				res.Err = ctx.Err()
				return res
			}
			warn := &feishudomain.AssetDownloadError{Kind: job.Kind, Token: job.Token + "_" + s.id, Err: err}
			logger.Warn("table unavailable", zap.String("table", s.id), zap.Error(err))
			res.Warnings = append(res.Warnings, warn)
			table = "<!-- asset unavailable: " + job.Kind + " " + job.Token + "_" + s.id + " -->"
		} else {
			table = renderer.renderMatrix(rows)
		}
		parts = append(parts, strings.TrimRight("# "+escapeMarkdown(s.name)+"\n\n"+table, "\n"))
	}

	body := strings.Join(parts, "\n\n---\n\n")
	if body != "" {
		body += "\n"
	}
	if err := e.writeDocument(job, root, body); err != nil {
		res.Err = err
		return res
	}
	res.Path = job.File
	return res
}

func (e Exporter) writeDocument(job docJob, root, body string) error {
	content := body
	if e.FrontMatter {
		fm, err := renderFrontMatter(newFrontMatter(job))
		if err != nil {
			return err
		}
		content = fm + body
	}
	abs := filepath.Join(root, filepath.FromSlash(job.File))
	if err := exportfs.WriteFileAtomic(abs, []byte(content), 0o644); err != nil {
		return &feishudomain.WriteError{Path: job.File, Err: err}
	}
	if err := exportfs.ApplyExportedFileTimes(abs, job.Edited, job.Created); err != nil {
		e.logger().Debug("apply file times failed", zap.String("path", job.File), zap.Error(err))
	}
	return nil
}

func (e Exporter) prepare(outputDir string) (string, error) {
	if strings.TrimSpace(outputDir) == "" {
		return "", errors.New("output directory is required")
	}
	if e.Source == nil {
		return "", errors.New("exporter has no source")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &feishudomain.WriteError{Path: outputDir, Err: err}
	}
	return resolveFilenameEscaping(e.FilenameEscaping)
}

func (e Exporter) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func clampConcurrency(n int) int {
	if n <= 0 {
		return DefaultConcurrency
	}
	return min(n, MaxConcurrency)
}

type manifestFile struct {
	RunID      string            `json:"run_id"`
	SpaceID    string            `json:"space_id"`
	Name       string            `json:"name"`
	ExportedAt time.Time         `json:"exported_at"`
	Cancelled  bool              `json:"cancelled,omitempty"`
	Nodes      map[string]string `json:"nodes"`
	Failures   []manifestFailure `json:"failures,omitempty"`

	ListingFailures []manifestFailure `json:"listing_failures,omitempty"`
}

type manifestFailure struct {
	NodeToken string `json:"node_token"`
	Title     string `json:"title,omitempty"`
	Error     string `json:"error"`
}

// writeManifest records which node landed where, next to the exported tree.
func writeManifest(outputDir string, summary SpaceSummary) error {
	m := manifestFile{
		RunID:      summary.RunID,
		SpaceID:    summary.SpaceID,
		Name:       summary.Name,
		ExportedAt: time.Now().UTC(),
		Cancelled:  summary.Cancelled,
		Nodes:      make(map[string]string),
	}
	for _, r := range summary.Results {
		if r.Err != nil {
			m.Failures = append(m.Failures, manifestFailure{NodeToken: r.NodeToken, Title: r.Title, Error: r.Err.Error()})
			continue
		}
		if r.Path != "" && r.NodeToken != "" {
			m.Nodes[r.NodeToken] = r.Path
		}
	}
	for _, le := range summary.ListingErrors {
		m.ListingFailures = append(m.ListingFailures, manifestFailure{NodeToken: le.Parent, Error: le.Error()})
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, filepath.FromSlash(summary.Dir), ManifestName)
	if err := exportfs.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return &feishudomain.WriteError{Path: path, Err: err}
	}
	return nil
}
