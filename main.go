package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Tutortoise/produce-detector/arbiter"
	"github.com/Tutortoise/produce-detector/config"
	"github.com/Tutortoise/produce-detector/cycle"
	"github.com/Tutortoise/produce-detector/engine"
	"github.com/Tutortoise/produce-detector/frames"
	"github.com/Tutortoise/produce-detector/frames/gstcamera"
	"github.com/Tutortoise/produce-detector/history"
	"github.com/Tutortoise/produce-detector/models"
	"github.com/Tutortoise/produce-detector/render"
	"github.com/Tutortoise/produce-detector/telemetry"
)

// Set with -ldflags "-X main.Version=... -X main.GitSHA=...".
var (
	Version = "dev"
	GitSHA  = "unknown"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	imagePath := flag.String("image", "", "classify a single image and exit")
	modelPath := flag.String("model", "", "model file (overrides PRODUCE_MODEL_PATH)")
	labelsPath := flag.String("labels", "", "label table JSON (overrides PRODUCE_LABELS_PATH)")
	debug := flag.Bool("debug", false, "log per-cycle timings")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("produce-detector %s (%s)\n", Version, GitSHA)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *labelsPath != "" {
		cfg.LabelsPath = *labelsPath
	}
	if *debug {
		cfg.Debug = true
	}

	if err := run(cfg, *imagePath); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config.Config, imagePath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTELEndpoint, Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("Tracing shutdown: %v", err)
		}
	}()

	table, err := cfg.LabelTable()
	if err != nil {
		return err
	}
	shape, err := cfg.Shape()
	if err != nil {
		return err
	}

	// Initialize ONNX Runtime
	libPath, err := resolveORTLibrary(cfg.ORTLibrary, librarySearchDirs())
	if err != nil {
		return err
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	defer ort.DestroyEnvironment()

	eng, err := bootEngine(cfg, shape, table)
	if err != nil {
		return err
	}
	defer eng.Close()

	src, closeSource, err := openSource(cfg, shape, imagePath)
	if err != nil {
		return err
	}
	defer closeSource()

	out, err := buildOutputs(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	orch, err := cycle.New(eng, src, out.renderer, cycle.Config{
		Interval: cfg.CycleInterval(),
		Table:    table,
		Policy:   arbiter.Policy{Threshold: cfg.Threshold, Background: table.Background},
	}, cycle.WithDebug(cfg.Debug))
	if err != nil {
		return err
	}

	if imagePath != "" {
		return classifyOnce(ctx, orch)
	}

	status := &statusServer{
		metrics: orch.Metrics(),
		table:   table,
		lcd:     out.grid,
		panel:   out.panel,
	}
	if out.store != nil {
		status.history = out.store
	}
	srv := newHTTPServer(cfg.StatusAddr, status.routes())
	go func() {
		log.Printf("Starting status server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Status server: %v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Printf("Starting detection loop every %v", cfg.CycleInterval())
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("Shutting down")
	return nil
}

// bootEngine loads the model and brings the engine up. Any error here is
// fatal and no cycle runs.
func bootEngine(cfg config.Config, shape models.FrameShape, table models.LabelTable) (*engine.Handle, error) {
	blob, err := engine.LoadModelBlob(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	tier, err := engine.TierByName(cfg.MemoryTier)
	if err != nil {
		return nil, err
	}

	arenaBytes := cfg.ArenaBytes
	if arenaBytes == 0 {
		arenaBytes = engine.DefaultArenaBytes()
	}

	ops := engine.DefaultOperatorSet()
	if len(cfg.Operators) > 0 {
		ops, err = engine.ParseOperatorSet(strings.Join(cfg.Operators, ","))
		if err != nil {
			return nil, err
		}
	}

	return engine.Initialize(blob, arenaBytes, ops, engine.Options{
		Shape:      shape,
		Categories: table.Len(),
		InputName:  cfg.InputName,
		OutputName: cfg.OutputName,
		Tier:       tier,
	})
}

// openSource picks the frame source: a single image in CLI mode, else the
// camera or the image directory.
func openSource(cfg config.Config, shape models.FrameShape, imagePath string) (frames.Source, func(), error) {
	noop := func() {}

	if imagePath != "" {
		dir, err := frames.NewImageFile(imagePath)
		if err != nil {
			return nil, noop, err
		}
		dir.Layout = shape.Layout
		return dir, noop, nil
	}

	switch cfg.FrameSource {
	case "images":
		dir, err := frames.NewImageDir(cfg.ImageDir)
		if err != nil {
			return nil, noop, err
		}
		dir.Layout = shape.Layout
		log.Printf("Serving %d images from %s", len(dir.Paths()), cfg.ImageDir)
		return dir, noop, nil
	default:
		cam, err := gstcamera.Open(gstcamera.Config{Device: cfg.CameraDev, Shape: shape})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open camera %s: %w", cfg.CameraDev, err)
		}
		return cam, func() { cam.Close() }, nil
	}
}

// outputs holds the render sinks and what the status server reads from them.
type outputs struct {
	renderer *render.Renderer
	grid     *render.GridDisplay
	panel    *render.MemoryPanel
	store    *history.Store
	closers  []io.Closer
}

func (o *outputs) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}
}

func buildOutputs(cfg config.Config) (*outputs, error) {
	out := &outputs{}
	sinks := []render.Sink{render.NewTextSink(nil)}

	if cfg.LCD != "none" {
		out.grid = render.NewGridDisplay(cfg.LCDRows, cfg.LCDCols)
	}
	switch cfg.LCD {
	case "virtual":
		sinks = append(sinks, render.NewLCDSink(out.grid))
	case "i2c", "serial":
		var (
			transport render.Transport
			err       error
		)
		if cfg.LCD == "i2c" {
			transport, err = render.OpenPCF8574(cfg.LCDDevice, cfg.LCDAddr)
		} else {
			transport, err = render.OpenSerLCD(cfg.LCDDevice, cfg.LCDBaud)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open %s lcd on %s: %w", cfg.LCD, cfg.LCDDevice, err)
		}
		lcd, err := render.NewHD44780(transport, cfg.LCDRows, cfg.LCDCols)
		if err != nil {
			transport.Close()
			return nil, err
		}
		out.closers = append(out.closers, lcd)
		sinks = append(sinks, render.NewLCDSink(render.MirroredDisplay{Primary: lcd, Mirror: out.grid}))
	}

	if cfg.Panel {
		out.panel = &render.MemoryPanel{}
		var po render.PanelOutput = out.panel
		if cfg.PanelPath != "" {
			po = render.Tee{out.panel, render.FilePanel{Path: cfg.PanelPath}}
		}
		sinks = append(sinks, render.NewPanelSink(po))
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.store = store
		out.closers = append(out.closers, store)
		sinks = append(sinks, history.NewSink(store))
	}

	out.renderer = render.NewRenderer(sinks...)
	return out, nil
}

// classifyOnce runs a single cycle without sleeping. The text sink prints the
// decision and the score line.
func classifyOnce(ctx context.Context, orch *cycle.Orchestrator) error {
	rep := orch.Step(ctx)
	if rep.AcquireErr != nil {
		return fmt.Errorf("image capture failed: %w", rep.AcquireErr)
	}
	if rep.InferErr != nil {
		return fmt.Errorf("invoke failed: %w", rep.InferErr)
	}
	log.Printf("Cycle %s took %v", rep.CycleID, rep.Timings.Total)
	return nil
}
