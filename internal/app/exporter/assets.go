package exporter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
	"github.com/sleroq/feishu-to-markdown/internal/infra/exportfs"
)

// Downloader fetches the bytes behind an image, file or whiteboard token.
type Downloader interface {
	Download(ctx context.Context, ref feishudomain.AssetRef) (feishudomain.Media, error)
}

// TableSource reads spreadsheet and bitable contents as string matrices. The
// first row of a bitable matrix holds the field names; an empty viewID means
// the whole table.
type TableSource interface {
	SheetValues(ctx context.Context, spreadsheetToken string, sheetID string) ([][]string, error)
	BitableRows(ctx context.Context, appToken string, tableID string, viewID string) ([][]string, error)
	Sheets(ctx context.Context, spreadsheetToken string) ([]feishudomain.SheetMeta, error)
	BitableTables(ctx context.Context, appToken string) ([]feishudomain.BitableTable, error)
}

// UserDirectory turns the user ids carried by @-mentions into display
// names.
type UserDirectory interface {
	UserName(ctx context.Context, userID string) (string, error)
}

// AssetCache remembers, for one export run, which assets were already
// downloaded and which user names were already looked up. It is safe for
// concurrent use; singleflight keeps one download per token.
type AssetCache struct {
	mu      sync.Mutex
	byToken map[string]cachedAsset
	users   map[string]string

	downloads singleflight.Group
	lookups   singleflight.Group
}

// cachedAsset is a downloaded asset as first written to disk.
type cachedAsset struct {
	abs  string
	ext  string
	hash string
}

func NewAssetCache() *AssetCache {
	return &AssetCache{
		byToken: make(map[string]cachedAsset),
		users:   make(map[string]string),
	}
}

func (c *AssetCache) lookup(key string) (cachedAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byToken[key]
	return a, ok
}

func (c *AssetCache) store(key string, a cachedAsset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byToken[key] = a
}

// DocPaths locates one document inside the output root. File and AssetDir
// are slash-separated and relative to Root.
type DocPaths struct {
	Root     string
	File     string
	AssetDir string
}

// ResolveReport lists the asset files a document references, relative to the
// output root, plus per-asset warnings.
type ResolveReport struct {
	Assets   []string
	Warnings []error
}

// AssetResolver downloads the binaries and embedded tables a document
// references and points the blocks at the local copies. It also fills in the
// display names of mentioned users when Users is set.
type AssetResolver struct {
	Downloader Downloader
	Tables     TableSource
	Users      UserDirectory
	Cache      *AssetCache
	Logger     *zap.Logger
}

// docAssets is the per-document placement state. Files are numbered in
// document order by distinct content, so the layout of one document never
// depends on what other documents of the run are doing.
type docAssets struct {
	paths  DocPaths
	byKey  map[string]string
	byHash map[string]string
	next   int
}

func (d *docAssets) place(ext string) (string, string) {
	d.next++
	rel := path.Join(d.paths.AssetDir, strconv.Itoa(d.next)+ext)
	return rel, filepath.Join(d.paths.Root, filepath.FromSlash(rel))
}

// Resolve visits blocks in pre-order. Failed assets are reported as warnings
// and keep an empty Path; the only error returned is cancellation.
func (r AssetResolver) Resolve(ctx context.Context, tree *BlockTree, doc DocPaths) (ResolveReport, error) {
	var report ResolveReport
	logger := r.logger()
	cache := r.Cache
	if cache == nil {
		cache = NewAssetCache()
	}

	var targets []*Block
	var mentions []*feishudomain.MentionUser
	tree.Walk(func(b *Block, _ int) bool {
		if b.Asset != nil || b.Embed != nil {
			targets = append(targets, b)
		}
		for _, el := range b.Text {
			if el.MentionUser != nil && el.MentionUser.UserID != "" {
				mentions = append(mentions, el.MentionUser)
			}
		}
		return true
	})

	state := &docAssets{paths: doc, byKey: make(map[string]string), byHash: make(map[string]string)}
	for _, b := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if b.Embed != nil {
			rows, err := r.fetchEmbed(ctx, b.Embed)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				logger.Warn("embedded table unavailable", zap.String("block_id", b.ID), zap.Error(err))
				report.Warnings = append(report.Warnings, err)
				continue
			}
			b.Embed.Rows = rows
			continue
		}

		key := string(b.Asset.Kind) + ":" + b.Asset.Token
		rel, ok := state.byKey[key]
		if !ok {
			var err error
			rel, err = r.resolveAsset(ctx, cache, b.Asset.AssetRef, key, state)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				logger.Warn("asset unavailable", zap.String("block_id", b.ID), zap.String("token", b.Asset.Token), zap.Error(err))
				report.Warnings = append(report.Warnings, err)
				continue
			}
			state.byKey[key] = rel
			if !slices.Contains(report.Assets, rel) {
				report.Assets = append(report.Assets, rel)
			}
		}
		b.Asset.Path = relativePathTarget(doc.File, rel)
	}

	for _, m := range mentions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m.Name = r.userName(ctx, cache, m.UserID)
	}
	return report, nil
}

// resolveAsset returns the document-relative file for one asset. The first
// document to need a token downloads it into its own asset dir; later ones
// copy that file into theirs.
func (r AssetResolver) resolveAsset(ctx context.Context, cache *AssetCache, ref feishudomain.AssetRef, key string, state *docAssets) (string, error) {
	placed := ""
	asset, ok := cache.lookup(key)
	if !ok {
		v, err, _ := cache.downloads.Do(key, func() (any, error) {
			if a, ok := cache.lookup(key); ok {
				return a, nil
			}
			if r.Downloader == nil {
				return nil, &feishudomain.AssetDownloadError{Kind: string(ref.Kind), Token: ref.Token, Err: errors.New("no downloader configured")}
			}
			media, err := r.Downloader.Download(ctx, ref)
			if err != nil {
				return nil, &feishudomain.AssetDownloadError{Kind: string(ref.Kind), Token: ref.Token, Err: err}
			}

			sum := sha256.Sum256(media.Data)
			a := cachedAsset{ext: assetExtension(ref, media), hash: hex.EncodeToString(sum[:])}
			if rel, dup := state.byHash[a.hash]; dup {
				placed = rel
				a.abs = filepath.Join(state.paths.Root, filepath.FromSlash(rel))
			} else {
				rel, abs := state.place(a.ext)
				if err := exportfs.WriteFileAtomic(abs, media.Data, 0o644); err != nil {
					state.next--
					return nil, &feishudomain.WriteError{Path: rel, Err: err}
				}
				state.byHash[a.hash] = rel
				placed = rel
				a.abs = abs
			}
			cache.store(key, a)
			return a, nil
		})
		if err != nil {
			return "", err
		}
		asset = v.(cachedAsset)
	}
	if placed != "" {
		return placed, nil
	}

	if rel, dup := state.byHash[asset.hash]; dup {
		return rel, nil
	}
	rel, abs := state.place(asset.ext)
	if err := exportfs.CopyFile(asset.abs, abs); err != nil {
		state.next--
		return "", &feishudomain.WriteError{Path: rel, Err: err}
	}
	state.byHash[asset.hash] = rel
	return rel, nil
}

// userName looks a user up once per run. Failed lookups fall back to the id.
func (r AssetResolver) userName(ctx context.Context, cache *AssetCache, userID string) string {
	if r.Users == nil {
		return ""
	}
	cache.mu.Lock()
	name, ok := cache.users[userID]
	cache.mu.Unlock()
	if ok {
		return name
	}

	v, _, _ := cache.lookups.Do(userID, func() (any, error) {
		name, err := r.Users.UserName(ctx, userID)
		if err != nil {
			r.logger().Debug("user name unavailable", zap.String("user_id", userID), zap.Error(err))
			if ctx.Err() != nil {
				return "", nil
			}
			name = ""
		}
		cache.mu.Lock()
		cache.users[userID] = name
		cache.mu.Unlock()
		return name, nil
	})
	return v.(string)
}

func (r AssetResolver) fetchEmbed(ctx context.Context, e *Embed) ([][]string, error) {
	fail := func(err error) error {
		return &feishudomain.AssetDownloadError{Kind: string(e.Kind), Token: e.Token, Err: err}
	}
	if e.Parent == "" || e.Child == "" {
		return nil, fail(errors.New("malformed embed token"))
	}
	if r.Tables == nil {
		return nil, fail(errors.New("no table source configured"))
	}

	var (
		rows [][]string
		err  error
	)
	switch e.Kind {
	case feishudomain.RefSheet:
		rows, err = r.Tables.SheetValues(ctx, e.Parent, e.Child)
	case feishudomain.RefBitable:
		rows, err = r.Tables.BitableRows(ctx, e.Parent, e.Child, e.View)
	default:
		err = errors.New("unknown embed kind " + string(e.Kind))
	}
	if err != nil {
		return nil, fail(err)
	}
	if rows == nil {
		rows = [][]string{}
	}
	return rows, nil
}

// assetExtension picks the server's filename extension, then sniffs the
// bytes, then falls back by kind.
func assetExtension(ref feishudomain.AssetRef, media feishudomain.Media) string {
	for _, name := range []string{media.Filename, ref.Name} {
		if ext := strings.ToLower(path.Ext(strings.TrimSpace(name))); validExtension(ext) {
			return ext
		}
	}
	if ext := exportfs.DetectFileExtension(media.Data); ext != "" {
		return ext
	}
	if ext := exportfs.ExtensionForContentType(media.ContentType); ext != "" {
		return ext
	}
	if ref.Kind == feishudomain.AssetImage || ref.Kind == feishudomain.AssetBoard {
		return ".png"
	}
	return ".bin"
}

func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 8 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (r AssetResolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
