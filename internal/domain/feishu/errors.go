package feishu

import "fmt"

// FetchError reports a remote listing or lookup that failed after the client
// exhausted its retries. It is fatal for the document it belongs to.
type FetchError struct {
	Op    string
	Token string
	Err   error
}

func (e *FetchError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Token, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedTreeError describes a structural inconsistency in a block listing.
// The tree builder recovers from it and reports it as a warning.
type MalformedTreeError struct {
	BlockID  string
	ParentID string
	Reason   string
}

func (e *MalformedTreeError) Error() string {
	if e.ParentID == "" {
		return fmt.Sprintf("block %s: %s", e.BlockID, e.Reason)
	}
	return fmt.Sprintf("block %s (parent %s): %s", e.BlockID, e.ParentID, e.Reason)
}

// AssetDownloadError is recorded when a single image, file, board or embedded
// table could not be fetched. The block renders with a placeholder.
type AssetDownloadError struct {
	Kind  string
	Token string
	Err   error
}

func (e *AssetDownloadError) Error() string {
	return fmt.Sprintf("download %s %s: %v", e.Kind, e.Token, e.Err)
}

func (e *AssetDownloadError) Unwrap() error { return e.Err }

// WriteError is a local storage failure.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
