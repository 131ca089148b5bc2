package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Tutortoise/produce-detector/models"
)

// Panel layout. The camera frame is too small to read on a panel, so it is
// drawn at twice its size above a status strip.
const (
	panelScale      = 2
	panelStripH     = 28
	panelIndicatorD = 16
)

var (
	indicatorOn  = color.NRGBA{R: 0x4c, G: 0xaf, B: 0x50, A: 0xff}
	indicatorOff = color.NRGBA{R: 0x3a, G: 0x3a, B: 0x3a, A: 0xff}
	panelBG      = color.NRGBA{A: 0xff}
	panelText    = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// PanelOutput receives each composed panel as a PNG.
type PanelOutput interface {
	Publish(png []byte) error
}

// PanelSink composes a graphical status panel: the last input frame, a
// detection indicator and a text label.
type PanelSink struct {
	mu    sync.Mutex
	out   PanelOutput
	frame *image.NRGBA
}

func NewPanelSink(out PanelOutput) *PanelSink {
	return &PanelSink{out: out}
}

func (p *PanelSink) Name() string { return "panel" }

// ObserveFrame keeps a copy of the input tensor as an image.
func (p *PanelSink) ObserveFrame(shape models.FrameShape, input []float32) {
	img := TensorImage(shape, input)
	p.mu.Lock()
	p.frame = img
	p.mu.Unlock()
}

func (p *PanelSink) RenderDetected(c models.Category) error {
	text := c.Label
	if c.HasPrice() {
		text += "  " + c.Price
	}
	return p.publish(true, text)
}

func (p *PanelSink) RenderNone() error {
	return p.publish(false, MsgNoDetection)
}

func (p *PanelSink) publish(detected bool, text string) error {
	var frame image.Image
	p.mu.Lock()
	if p.frame != nil {
		frame = p.frame
	}
	p.mu.Unlock()

	img := ComposePanel(frame, detected, text)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode panel: %w", err)
	}
	return p.out.Publish(buf.Bytes())
}

// TensorImage converts a normalized input tensor back to pixels.
func TensorImage(shape models.FrameShape, input []float32) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	if len(input) < shape.Elements() {
		return img
	}
	plane := shape.Width * shape.Height
	at := func(x, y, c int) uint8 {
		var v float32
		if shape.Layout == models.NCHW {
			v = input[c*plane+y*shape.Width+x]
		} else {
			v = input[(y*shape.Width+x)*shape.Channels+c]
		}
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 0xff
		}
		return uint8(v*255 + 0.5)
	}
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			i := img.PixOffset(x, y)
			if shape.Channels == 1 {
				g := at(x, y, 0)
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = g, g, g
			} else {
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = at(x, y, 0), at(x, y, 1), at(x, y, 2)
			}
			img.Pix[i+3] = 0xff
		}
	}
	return img
}

// ComposePanel draws the panel. A nil frame leaves the canvas black at the
// default frame size.
func ComposePanel(frame image.Image, detected bool, text string) *image.NRGBA {
	fw, fh := 96, 96
	if frame != nil {
		fw, fh = frame.Bounds().Dx(), frame.Bounds().Dy()
	}
	w, h := fw*panelScale, fh*panelScale
	if need := 2*panelIndicatorD + font.MeasureString(basicfont.Face7x13, text).Ceil(); w < need {
		w = need
	}

	canvas := imaging.New(w, h+panelStripH, panelBG)
	if frame != nil {
		scaled := imaging.Resize(frame, fw*panelScale, fh*panelScale, imaging.NearestNeighbor)
		canvas = imaging.Paste(canvas, scaled, image.Pt((w-scaled.Bounds().Dx())/2, 0))
	}

	ind := indicatorOff
	if detected {
		ind = indicatorOn
	}
	top := h + (panelStripH-panelIndicatorD)/2
	draw.Draw(canvas, image.Rect(4, top, 4+panelIndicatorD, top+panelIndicatorD), image.NewUniform(ind), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(panelText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8+panelIndicatorD, h+panelStripH/2+basicfont.Face7x13.Ascent/2),
	}
	d.DrawString(text)
	return canvas
}

// MemoryPanel keeps the latest panel in memory for the status server.
type MemoryPanel struct {
	mu  sync.RWMutex
	png []byte
}

func (m *MemoryPanel) Publish(png []byte) error {
	cp := make([]byte, len(png))
	copy(cp, png)
	m.mu.Lock()
	m.png = cp
	m.mu.Unlock()
	return nil
}

// Latest returns the last published PNG, or nil.
func (m *MemoryPanel) Latest() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.png
}

// FilePanel writes every panel to Path, replacing it atomically so a viewer
// never reads a partial file.
type FilePanel struct {
	Path string
}

func (f FilePanel) Publish(png []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".panel-*.png")
	if err != nil {
		return fmt.Errorf("create panel file: %w", err)
	}
	if _, err := tmp.Write(png); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write panel file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Tee publishes to every output, stopping at the first error.
type Tee []PanelOutput

func (t Tee) Publish(png []byte) error {
	for _, o := range t {
		if err := o.Publish(png); err != nil {
			return err
		}
	}
	return nil
}
