// Package thumbs renders and caches JPEG thumbnails for image files.
package thumbs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"fileshelf/internal/fsutil"
)

// ErrUnsupported is returned for files that are not decodable images.
var ErrUnsupported = errors.New("thumbnail not supported")

// Cache renders thumbnails on demand into dir.
type Cache struct {
	guard *fsutil.Guard
	dir   string
}

func New(g *fsutil.Guard, stateDir string) (*Cache, error) {
	dir := filepath.Join(stateDir, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{guard: g, dir: dir}, nil
}

// Get returns the cache key of the thumbnail for rel, rendering it if the
// cached copy is missing or stale.
func (c *Cache) Get(rel string, max int) (string, error) {
	abs, err := c.guard.ResolveRel(rel)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if st.IsDir() || !IsImageExt(strings.ToLower(filepath.Ext(abs))) {
		return "", ErrUnsupported
	}
	if max <= 0 {
		max = 256
	}
	sum := sha256.Sum256([]byte(rel))
	key := fmt.Sprintf("%s-%d-%d.jpg", hex.EncodeToString(sum[:12]), st.ModTime().Unix(), max)
	p := filepath.Join(c.dir, key)
	if _, err := os.Stat(p); err == nil {
		return key, nil
	}
	b, err := makeThumb(abs, max)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", err
	}
	return key, nil
}

// Path returns the cache file for key, or false for keys that are not plain
// file names.
func (c *Cache) Path(key string) (string, bool) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") || !strings.HasSuffix(key, ".jpg") {
		return "", false
	}
	return filepath.Join(c.dir, key), true
}

func IsImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func makeThumb(absPath string, max int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}

	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else {
		if h > max {
			nh = max
			nw = int(float64(w) * (float64(max) / float64(h)))
		}
	}
	nw = maxInt(nw, 1)
	nh = maxInt(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
