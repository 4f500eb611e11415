package exporter

import (
	"path"
	"path/filepath"
	"strings"
)

func escapeBrackets(s string) string {
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// relativePathTarget returns targetPath relative to the directory holding
// sourcePath. Both are slash-separated paths under the same output root.
func relativePathTarget(sourcePath string, targetPath string) string {
	targetPath = filepath.ToSlash(strings.TrimSpace(targetPath))
	if targetPath == "" {
		return ""
	}
	sourcePath = filepath.ToSlash(strings.TrimSpace(sourcePath))
	if sourcePath == "" {
		return targetPath
	}

	sourceDir := path.Dir(sourcePath)
	rel, err := filepath.Rel(filepath.FromSlash(sourceDir), filepath.FromSlash(targetPath))
	if err != nil {
		return targetPath
	}
	rel = filepath.ToSlash(strings.TrimSpace(rel))
	if rel == "" || rel == "." {
		return targetPath
	}
	return rel
}

// docAssetsDir is the asset directory that sits next to a document file.
func docAssetsDir(docFile string) string {
	return strings.TrimSuffix(docFile, path.Ext(docFile)) + "_assets"
}

// nodeFilePath places a wiki node's file. Nodes with children own a
// directory holding both their own file and their children.
func nodeFilePath(nodePath string, hasChildren bool, ext string) string {
	if hasChildren {
		return nodePath + "/" + path.Base(nodePath) + ext
	}
	return nodePath + ext
}
