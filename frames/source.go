// Package frames turns pictures into normalized input tensors.
package frames

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"

	"github.com/Tutortoise/produce-detector/models"
)

// Source fills dst with one frame of width×height×channels normalized
// float32 samples. dst is the engine input tensor and is written in place.
type Source interface {
	GetFrame(width, height, channels int, dst []float32) error
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(width, height, channels int, dst []float32) error

func (f SourceFunc) GetFrame(width, height, channels int, dst []float32) error {
	return f(width, height, channels, dst)
}

var ErrShape = errors.New("frame shape mismatch")

// CheckDst validates that dst can hold a frame of the given geometry.
func CheckDst(width, height, channels int, dst []float32) error {
	if width <= 0 || height <= 0 || (channels != 1 && channels != 3) {
		return fmt.Errorf("%w: %dx%dx%d", ErrShape, width, height, channels)
	}
	if len(dst) != width*height*channels {
		return fmt.Errorf("%w: dst holds %d values, frame needs %d", ErrShape, len(dst), width*height*channels)
	}
	return nil
}

// Preprocessor converts decoded images into input tensors of one fixed shape.
// Rows are split across workers.
type Preprocessor struct {
	shape      models.FrameShape
	numWorkers int
}

func NewPreprocessor(shape models.FrameShape) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	if workers > shape.Height {
		workers = shape.Height
	}
	if workers < 1 {
		workers = 1
	}
	return &Preprocessor{shape: shape, numWorkers: workers}
}

// Shape returns the tensor geometry the preprocessor produces.
func (p *Preprocessor) Shape() models.FrameShape { return p.shape }

// Process writes img into dst. img must already be exactly the target size.
func (p *Preprocessor) Process(img image.Image, dst []float32) error {
	s := p.shape
	if err := CheckDst(s.Width, s.Height, s.Channels, dst); err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != s.Width || b.Dy() != s.Height {
		return fmt.Errorf("%w: image is %dx%d, want %dx%d", ErrShape, b.Dx(), b.Dy(), s.Width, s.Height)
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		p.processParallel(func(y int, row []float32) {
			p.packedRow(nrgba.Pix[nrgba.PixOffset(b.Min.X, b.Min.Y+y):], 4, row)
		}, dst)
		return nil
	}

	p.processParallel(func(y int, row []float32) {
		for x := 0; x < s.Width; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			r, g, bl, _ := c.RGBA()
			p.put(row, x, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}, dst)
	return nil
}

// ProcessPacked writes tightly packed 8-bit pixels into dst. pix holds RGB
// triplets when the shape has 3 channels and luma bytes when it has 1.
func (p *Preprocessor) ProcessPacked(pix []byte, dst []float32) error {
	return p.ProcessStrided(pix, p.shape.Width*p.shape.Channels, dst)
}

// ProcessStrided is ProcessPacked for rows that start stride bytes apart, as
// in raw video buffers whose rows are padded.
func (p *Preprocessor) ProcessStrided(pix []byte, stride int, dst []float32) error {
	s := p.shape
	if err := CheckDst(s.Width, s.Height, s.Channels, dst); err != nil {
		return err
	}
	rowBytes := s.Width * s.Channels
	if stride < rowBytes {
		return fmt.Errorf("%w: stride %d shorter than a %d byte row", ErrShape, stride, rowBytes)
	}
	if want := stride*(s.Height-1) + rowBytes; len(pix) < want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShape, len(pix), want)
	}
	p.processParallel(func(y int, row []float32) {
		p.packedRow(pix[y*stride:], s.Channels, row)
	}, dst)
	return nil
}

// packedRow reads one row of pixels with bpp bytes per pixel (1, 3 or 4).
func (p *Preprocessor) packedRow(src []byte, bpp int, row []float32) {
	for x := 0; x < p.shape.Width; x++ {
		px := src[x*bpp:]
		if bpp == 1 {
			p.put(row, x, px[0], px[0], px[0])
			continue
		}
		p.put(row, x, px[0], px[1], px[2])
	}
}

// put stores one pixel of an NHWC row.
func (p *Preprocessor) put(row []float32, x int, r, g, b uint8) {
	c := p.shape.Channels
	if c == 1 {
		gray := color.GrayModel.Convert(color.RGBA{R: r, G: g, B: b, A: 0xff}).(color.Gray)
		row[x] = float32(gray.Y) / 255.0
		return
	}
	row[x*c] = float32(r) / 255.0
	row[x*c+1] = float32(g) / 255.0
	row[x*c+2] = float32(b) / 255.0
}

func (p *Preprocessor) processParallel(fill func(y int, row []float32), dst []float32) {
	s := p.shape
	rowLen := s.Width * s.Channels
	planeSize := s.Width * s.Height
	rowsPerWorker := s.Height / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			endRow = s.Height
		}

		go func(start, end int) {
			defer wg.Done()
			// NCHW rows are filled interleaved, then scattered into planes.
			var scratch []float32
			if s.Layout == models.NCHW && s.Channels > 1 {
				scratch = make([]float32, rowLen)
			}
			for y := start; y < end; y++ {
				if scratch == nil {
					fill(y, dst[y*rowLen:(y+1)*rowLen])
					continue
				}
				fill(y, scratch)
				for x := 0; x < s.Width; x++ {
					for c := 0; c < s.Channels; c++ {
						dst[c*planeSize+y*s.Width+x] = scratch[x*s.Channels+c]
					}
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
