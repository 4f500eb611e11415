package feishuapi

import (
	"context"
	"net/url"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

// ListWikiChildren lists every direct child of parentToken, or the top level
// of the space when parentToken is empty.
func (c *Client) ListWikiChildren(ctx context.Context, spaceID string, parentToken string) ([]feishudomain.WikiNode, error) {
	query := url.Values{"page_size": {"50"}}
	if parentToken != "" {
		query.Set("parent_node_token", parentToken)
	}
	return listAll[feishudomain.WikiNode](ctx, c, "/wiki/v2/spaces/"+segment(spaceID)+"/nodes", query)
}

func (c *Client) SpaceInfo(ctx context.Context, spaceID string) (feishudomain.SpaceInfo, error) {
	var data struct {
		Space feishudomain.SpaceInfo `json:"space"`
	}
	if err := c.getJSON(ctx, "/wiki/v2/spaces/"+segment(spaceID), nil, &data); err != nil {
		return feishudomain.SpaceInfo{}, err
	}
	return data.Space, nil
}

// WikiNode resolves a wiki node token to the node and the object behind it.
func (c *Client) WikiNode(ctx context.Context, token string) (feishudomain.WikiNode, error) {
	query := url.Values{
		"token":    {token},
		"obj_type": {"wiki"},
	}
	var data struct {
		Node feishudomain.WikiNode `json:"node"`
	}
	if err := c.getJSON(ctx, "/wiki/v2/spaces/get_node", query, &data); err != nil {
		return feishudomain.WikiNode{}, err
	}
	return data.Node, nil
}
