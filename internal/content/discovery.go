package content

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/keithlinneman/flatcms/internal/log"
)

// Discover lists every file under dir whose name ends in ext, recursing
// into subdirectories. Dot-files and editor backups ("~", "#") are
// skipped, as is any directory that cannot be read. Paths are slash
// separated, relative to the filesystem root, and sorted by SortDepthFirst.
func Discover(ctx context.Context, fsys billy.Filesystem, dir, ext string) []string {
	if dir == "" {
		dir = "."
	}
	var files []string
	walkDir(ctx, fsys, dir, ext, &files)
	SortDepthFirst(files, ext)
	return files
}

func walkDir(ctx context.Context, fsys billy.Filesystem, dir, ext string, out *[]string) {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		log.FromContext(ctx).Debug(ctx, "skipping unreadable content directory", "dir", dir, "err", err)
		return
	}
	for _, fi := range infos {
		name := fi.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, "#") {
			continue
		}
		p := fsys.Join(dir, name)
		if fi.IsDir() {
			walkDir(ctx, fsys, p, ext, out)
			continue
		}
		if strings.HasSuffix(name, ext) {
			*out = append(*out, filepath.ToSlash(p))
		}
	}
}

// SortDepthFirst orders content paths so that a directory's index file
// comes first within that directory, and every page precedes the pages
// below it. A leaf "a.md" sorts directly before the "a/" subtree.
func SortDepthFirst(files []string, ext string) {
	keys := make(map[string][]string, len(files))
	for _, f := range files {
		segs := strings.Split(strings.TrimPrefix(f, "/"), "/")
		segs[len(segs)-1] = strings.TrimSuffix(segs[len(segs)-1], ext)
		keys[f] = segs
	}
	sort.SliceStable(files, func(i, j int) bool {
		return depthFirstLess(keys[files[i]], keys[files[j]])
	})
}

func depthFirstLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		aIdx := i == len(a)-1 && a[i] == indexName
		bIdx := i == len(b)-1 && b[i] == indexName
		if aIdx != bIdx {
			return aIdx
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}
