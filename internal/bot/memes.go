package bot

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadMemes maps meme tags to image files by scanning a directory: each
// image file registers under its name without extension. An empty or
// missing root disables stickers.
func LoadMemes(root string) map[string]string {
	memes := make(map[string]string)
	if root == "" {
		return memes
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return memes
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp":
			tag := strings.TrimSuffix(name, filepath.Ext(name))
			memes[tag] = filepath.Join(root, name)
		}
	}
	return memes
}
