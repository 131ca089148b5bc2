package frames

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/produce-detector/models"
)

var ErrNoImages = errors.New("no images found")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// ImageDir serves decoded still images as frames, cycling through them in
// name order. It stands in for the camera on development hosts and backs the
// single-image CLI mode.
type ImageDir struct {
	// Layout is the tensor layout GetFrame writes. Set it before the first
	// frame.
	Layout models.Layout

	mu    sync.Mutex
	paths []string
	next  int
	// last holds the most recent image already fitted to the frame size.
	last image.Image
}

// NewImageDir lists the images in dir.
func NewImageDir(dir string) (*ImageDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}
	sort.Strings(paths)
	return &ImageDir{paths: paths}, nil
}

// NewImageFile serves the same image on every call.
func NewImageFile(path string) (*ImageDir, error) {
	if !imageExts[strings.ToLower(filepath.Ext(path))] {
		return nil, fmt.Errorf("unsupported image type %q", filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("image file not found: %w", err)
	}
	return &ImageDir{paths: []string{path}}, nil
}

// Paths returns the images served, in order.
func (d *ImageDir) Paths() []string {
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

// GetFrame decodes the next image, crops and scales it to width×height and
// writes it into dst.
func (d *ImageDir) GetFrame(width, height, channels int, dst []float32) error {
	if err := CheckDst(width, height, channels, dst); err != nil {
		return err
	}

	d.mu.Lock()
	path := d.paths[d.next]
	d.next = (d.next + 1) % len(d.paths)
	d.mu.Unlock()

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	fitted := imaging.Fill(src, width, height, imaging.Center, imaging.Linear)
	if channels == 1 {
		fitted = imaging.Grayscale(fitted)
	}

	d.mu.Lock()
	d.last = fitted
	d.mu.Unlock()

	pre := NewPreprocessor(models.FrameShape{Width: width, Height: height, Channels: channels, Layout: d.Layout})
	return pre.Process(fitted, dst)
}

// Last returns the most recent fitted image, or nil before the first frame.
func (d *ImageDir) Last() image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
