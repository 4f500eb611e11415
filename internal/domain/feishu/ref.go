package feishu

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RefKind is the kind of resource a user-supplied link or token points at.
type RefKind string

const (
	RefDocx    RefKind = "docx"
	RefWiki    RefKind = "wiki"
	RefSpace   RefKind = "space"
	RefSheet   RefKind = "sheet"
	RefBitable RefKind = "bitable"
)

// Ref is a parsed document link.
type Ref struct {
	Kind  RefKind
	Token string
	// Table is the table or sheet id carried in the query string, if any.
	Table string
}

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

var refHosts = []string{"feishu.cn", "larksuite.com", "larkoffice.com", "feishu-pre.cn"}

// ParseURL recognises docx, wiki, sheet and base links on the Feishu and Lark
// domains.
func ParseURL(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Ref{}, fmt.Errorf("unsupported url %q", raw)
	}
	if !knownHost(u.Hostname()) {
		return Ref{}, fmt.Errorf("unsupported host %q", u.Hostname())
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 {
		return Ref{}, fmt.Errorf("unsupported url %q", raw)
	}

	var ref Ref
	switch segments[0] {
	case "docx", "docs", "doc":
		ref.Kind = RefDocx
	case "wiki":
		if segments[1] == "settings" && len(segments) >= 3 {
			ref.Kind = RefSpace
			segments = segments[1:]
		} else {
			ref.Kind = RefWiki
		}
	case "sheets", "sheet":
		ref.Kind = RefSheet
		ref.Table = u.Query().Get("sheet")
	case "base":
		ref.Kind = RefBitable
		ref.Table = u.Query().Get("table")
	default:
		return Ref{}, fmt.Errorf("unsupported url %q", raw)
	}

	ref.Token = segments[1]
	if !tokenPattern.MatchString(ref.Token) {
		return Ref{}, fmt.Errorf("invalid token %q in %q", ref.Token, raw)
	}
	return ref, nil
}

func knownHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range refHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// ParseRef accepts either a link or a bare token. A bare token is taken to
// be of the fallback kind.
func ParseRef(raw string, fallback RefKind) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return ParseURL(raw)
	}
	if !tokenPattern.MatchString(raw) {
		return Ref{}, fmt.Errorf("invalid token %q", raw)
	}
	return Ref{Kind: fallback, Token: raw}, nil
}
