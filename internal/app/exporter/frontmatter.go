package exporter

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// maxNameBytes keeps generated names under common filesystem limits once an
// extension and a collision suffix are appended.
const maxNameBytes = 200

type frontMatter struct {
	Title     string `yaml:"title"`
	Type      string `yaml:"feishu_type"`
	DocID     string `yaml:"feishu_token,omitempty"`
	NodeToken string `yaml:"feishu_node_token,omitempty"`
	SpaceID   string `yaml:"feishu_space_id,omitempty"`
	Created   string `yaml:"created,omitempty"`
	Updated   string `yaml:"updated,omitempty"`
}

func newFrontMatter(job docJob) frontMatter {
	fm := frontMatter{
		Title:     job.Title,
		Type:      job.Kind,
		DocID:     job.Token,
		NodeToken: job.NodeToken,
		SpaceID:   job.SpaceID,
	}
	if !job.Created.IsZero() {
		fm.Created = job.Created.UTC().Format(time.RFC3339)
	}
	if !job.Edited.IsZero() {
		fm.Updated = job.Edited.UTC().Format(time.RFC3339)
	}
	return fm
}

func renderFrontMatter(fm frontMatter) (string, error) {
	out, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal front matter: %w", err)
	}
	return "---\n" + string(out) + "---\n\n", nil
}

func sanitizeName(s string, mode string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "untitled"
	}
	var b strings.Builder
	for _, r := range s {
		if isForbiddenFileNameRune(r, mode) {
			b.WriteRune('-')
			continue
		}
		b.WriteRune(r)
	}
	out := truncateName(strings.TrimSpace(b.String()), maxNameBytes)
	if mode == "windows" {
		out = strings.TrimRight(out, ". ")
	}
	out = strings.Trim(out, "/")
	if out == "." || out == ".." {
		out = ""
	}
	if mode == "windows" && isWindowsReservedName(out) {
		out = out + "-file"
	}
	if out == "" {
		return "untitled"
	}
	return out
}

func truncateName(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

func resolveFilenameEscaping(mode string) (string, error) {
	mode = strings.TrimSpace(strings.ToLower(mode))
	if mode == "" || mode == "auto" {
		if runtime.GOOS == "windows" {
			return "windows", nil
		}
		return "posix", nil
	}
	if mode == "posix" || mode == "windows" {
		return mode, nil
	}
	return "", fmt.Errorf("invalid filename escaping mode %q: expected auto, posix, or windows", mode)
}

// filenameCollisionKey compares names the way case-insensitive filesystems
// do, after NFC normalization.
func filenameCollisionKey(name string) string {
	return strings.ToLower(norm.NFC.String(name))
}

// nameClaims hands out collision-free sibling names: the second "Title"
// becomes "Title-2".
type nameClaims map[string]struct{}

func (c nameClaims) claim(name string) string {
	candidate := name
	for n := 2; ; n++ {
		key := filenameCollisionKey(candidate)
		if _, taken := c[key]; !taken {
			c[key] = struct{}{}
			return candidate
		}
		candidate = name + "-" + strconv.Itoa(n)
	}
}

func isForbiddenFileNameRune(r rune, mode string) bool {
	if r == 0 || r == '/' || unicode.IsControl(r) {
		return true
	}
	if mode != "windows" {
		return false
	}
	switch r {
	case '<', '>', ':', '"', '\\', '|', '?', '*':
		return true
	default:
		return false
	}
}

func isWindowsReservedName(name string) bool {
	if name == "" {
		return false
	}
	upper := strings.ToUpper(strings.TrimSpace(name))
	if idx := strings.IndexRune(upper, '.'); idx >= 0 {
		upper = upper[:idx]
	}
	switch upper {
	case "CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9":
		return true
	default:
		return false
	}
}
