package feishuapi

import (
	"context"
	"net/url"
)

// UserName returns the display name of the user with the given open_id.
func (c *Client) UserName(ctx context.Context, openID string) (string, error) {
	var data struct {
		User struct {
			Name   string `json:"name"`
			EnName string `json:"en_name"`
		} `json:"user"`
	}
	query := url.Values{"user_id_type": {"open_id"}}
	if err := c.getJSON(ctx, "/contact/v3/users/"+segment(openID), query, &data); err != nil {
		return "", err
	}
	if data.User.Name != "" {
		return data.User.Name, nil
	}
	return data.User.EnName, nil
}
