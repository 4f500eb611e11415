package exporter

import (
	"context"
	"errors"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

// BlockPage is one page of a document's block listing.
type BlockPage struct {
	Items      []feishudomain.RawBlock
	NextCursor string
	HasMore    bool
}

// BlockPager fetches one page of blocks. An empty cursor requests the first
// page.
type BlockPager interface {
	FetchBlockPage(ctx context.Context, docID string, cursor string) (BlockPage, error)
}

// FetchBlocks drains every page of docID in the order the remote returns
// them. Records repeated across pages keep their first position.
func FetchBlocks(ctx context.Context, pager BlockPager, docID string) ([]feishudomain.RawBlock, error) {
	var out []feishudomain.RawBlock
	seen := make(map[string]struct{})
	cursors := make(map[string]struct{})
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, &feishudomain.FetchError{Op: "list blocks", Token: docID, Err: err}
		}
		page, err := pager.FetchBlockPage(ctx, docID, cursor)
		if err != nil {
			return nil, &feishudomain.FetchError{Op: "list blocks", Token: docID, Err: err}
		}
		for _, item := range page.Items {
			if item.BlockID == "" {
				continue
			}
			if _, dup := seen[item.BlockID]; dup {
				continue
			}
			seen[item.BlockID] = struct{}{}
			out = append(out, item)
		}

		if !page.HasMore {
			return out, nil
		}
		if page.NextCursor == "" {
			return nil, &feishudomain.FetchError{Op: "list blocks", Token: docID, Err: errors.New("has_more set without page_token")}
		}
		if _, repeated := cursors[page.NextCursor]; repeated {
			return nil, &feishudomain.FetchError{Op: "list blocks", Token: docID, Err: errors.New("page_token repeated")}
		}
		cursors[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}
}
