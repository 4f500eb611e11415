package feishuapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/avast/retry-go/v4"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

// Download fetches an image, attachment or whiteboard snapshot. Whiteboards
// are rendered to an image by the server.
func (c *Client) Download(ctx context.Context, ref feishudomain.AssetRef) (feishudomain.Media, error) {
	var p string
	switch ref.Kind {
	case feishudomain.AssetImage, feishudomain.AssetFile:
		p = "/drive/v1/medias/" + segment(ref.Token) + "/download"
	case feishudomain.AssetBoard:
		p = "/board/v1/whiteboards/" + segment(ref.Token) + "/download_as_image"
	default:
		return feishudomain.Media{}, fmt.Errorf("unknown asset kind %q", ref.Kind)
	}

	return retry.DoWithData(func() (feishudomain.Media, error) {
		resp, err := c.send(ctx, http.MethodGet, p, nil, nil)
		if err != nil {
			return feishudomain.Media{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return feishudomain.Media{}, fmt.Errorf("read %s: %w", p, err)
		}
		contentType := resp.Header.Get("Content-Type")
		if resp.StatusCode >= http.StatusBadRequest || isJSON(contentType) {
			if apiErr := mediaError(resp.StatusCode, data); apiErr != nil {
				return feishudomain.Media{}, classify(apiErr)
			}
		}

		return feishudomain.Media{
			Data:        data,
			Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
			ContentType: contentType,
		}, nil
	}, c.retryOptions(ctx, "GET "+p)...)
}

// mediaError extracts the error envelope a download endpoint answers with
// instead of a body. A JSON body with code 0 is treated as content.
func mediaError(status int, body []byte) *APIError {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return &APIError{Status: status, Msg: http.StatusText(status)}
		}
		return nil
	}
	if env.Code == 0 && status < http.StatusBadRequest {
		return nil
	}
	return &APIError{Status: status, Code: env.Code, Msg: env.Msg}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// filenameFromDisposition returns the filename parameter of a
// Content-Disposition header, decoding the RFC 5987 filename* form.
func filenameFromDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}
