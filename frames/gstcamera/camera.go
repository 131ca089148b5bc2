// Package gstcamera captures frames from a V4L2 camera through GStreamer.
package gstcamera

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Tutortoise/produce-detector/frames"
	"github.com/Tutortoise/produce-detector/models"
)

// Config describes the capture device and the frame geometry the pipeline
// converts to.
type Config struct {
	Device    string
	Shape     models.FrameShape
	Framerate int
}

// Camera is a frames.Source backed by the pipeline
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter → appsink
//
// The capsfilter pins width, height and pixel format so every sample is a
// tightly packed frame of the configured shape.
type Camera struct {
	mu       sync.Mutex
	cfg      Config
	pipeline *gst.Pipeline
	sink     *app.Sink
	pre      *frames.Preprocessor
	frames   uint64
}

// CapsString returns the raw-video caps the pipeline negotiates for cfg.
func CapsString(cfg Config) string {
	format := "RGB"
	if cfg.Shape.Channels == 1 {
		format = "GRAY8"
	}
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format, cfg.Shape.Width, cfg.Shape.Height)
	if cfg.Framerate > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", cfg.Framerate)
	}
	return caps
}

// Open builds the pipeline and sets it playing.
func Open(cfg Config) (*Camera, error) {
	if err := cfg.Shape.Validate(); err != nil {
		return nil, err
	}
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}

	// Safe to call more than once.
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(CapsString(cfg)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	// Keep only the latest frame; the loop samples far slower than the camera.
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to set pipeline to playing: %w", err)
	}
	log.Printf("camera: %s streaming %s", cfg.Device, CapsString(cfg))

	return &Camera{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     sink,
		pre:      frames.NewPreprocessor(cfg.Shape),
	}, nil
}

// GetFrame pulls the newest sample and normalizes it into dst. It blocks until
// the camera delivers a frame.
func (c *Camera) GetFrame(width, height, channels int, dst []float32) error {
	if width != c.cfg.Shape.Width || height != c.cfg.Shape.Height || channels != c.cfg.Shape.Channels {
		return fmt.Errorf("%w: camera negotiated %dx%dx%d, asked for %dx%dx%d", frames.ErrShape,
			c.cfg.Shape.Width, c.cfg.Shape.Height, c.cfg.Shape.Channels, width, height, channels)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.busError(); err != nil {
		return err
	}

	sample := c.sink.PullSample()
	if sample == nil {
		if err := c.busError(); err != nil {
			return err
		}
		return fmt.Errorf("camera %s: end of stream", c.cfg.Device)
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return fmt.Errorf("camera %s: sample without buffer", c.cfg.Device)
	}
	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) == 0 {
		return fmt.Errorf("camera %s: empty buffer", c.cfg.Device)
	}
	stride, err := RowStride(c.cfg.Shape, len(data))
	if err != nil {
		return fmt.Errorf("camera %s: %w", c.cfg.Device, err)
	}
	c.frames++
	return c.pre.ProcessStrided(data, stride, dst)
}

// RowStride returns the byte distance between rows of a raw video buffer of
// size bytes. GStreamer pads RGB and GRAY8 rows to a multiple of 4 bytes; an
// unpadded buffer is accepted as well.
func RowStride(shape models.FrameShape, size int) (int, error) {
	packed := shape.Width * shape.Channels
	padded := (packed + 3) &^ 3
	switch {
	case size >= padded*shape.Height:
		return padded, nil
	case size >= packed*shape.Height:
		return packed, nil
	}
	return 0, fmt.Errorf("%w: %d byte buffer for %dx%dx%d frame", frames.ErrShape,
		size, shape.Width, shape.Height, shape.Channels)
}

// busError drains pending bus messages and returns the first pipeline error.
func (c *Camera) busError() error {
	bus := c.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(time.Duration(0))
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			log.Printf("camera: pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
			return fmt.Errorf("camera pipeline error: %w", gerr)
		case gst.MessageEOS:
			return fmt.Errorf("camera %s: end of stream", c.cfg.Device)
		}
	}
}

// Frames returns the number of frames delivered so far.
func (c *Camera) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Close stops the pipeline.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline.SetState(gst.StateNull)
}
