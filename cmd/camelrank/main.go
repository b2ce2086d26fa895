// camelrank: rank camel images by beauty score
// Scores every image file given on the command line and prints the ones
// with a detected body as JSON, best first.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/teslashibe/go-camelbeauty/internal/config"
	"github.com/teslashibe/go-camelbeauty/internal/log"
	"github.com/teslashibe/go-camelbeauty/pkg/annotate"
	"github.com/teslashibe/go-camelbeauty/pkg/pipeline"
	"github.com/teslashibe/go-camelbeauty/pkg/score"
)

var (
	workers     = flag.Int("workers", 0, "Images scored in parallel (overrides WORKERS)")
	topK        = flag.Int("top-k", 0, "Classes kept per attribute (overrides TOP_K)")
	annotateDir = flag.String("annotate", "", "Write annotated PNGs to this directory")
	pretty      = flag.Bool("pretty", false, "Indent JSON output")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

type entry struct {
	Rank      int          `json:"rank"`
	Path      string       `json:"path"`
	BodyBBox  [4]int       `json:"body_bbox"`
	FaceBBox  *[4]int      `json:"face_bbox"`
	Scores    score.Bundle `json:"scores"`
	Annotated string       `json:"annotated,omitempty"`
}

type report struct {
	TotalImages int     `json:"total_images"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Results     []entry `json:"results"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: camelrank [flags] image...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *topK > 0 {
		cfg.TopK = *topK
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	// stdout carries the JSON report
	logger := log.New(os.Stderr, cfg.LogLevel, false)

	if err := run(cfg, paths, logger); err != nil {
		logger.Error("rank failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, paths []string, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	pc, err := pipeline.Load(cfg, logger)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	defer pc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ranked, err := pc.RunBatchFiles(ctx, paths)
	if err != nil {
		return err
	}

	rep := report{
		TotalImages: len(paths),
		Successful:  len(ranked),
		Failed:      len(paths) - len(ranked),
		Results:     make([]entry, len(ranked)),
	}
	for i, r := range ranked {
		e := entry{
			Rank:     i + 1,
			Path:     paths[r.Index],
			BodyBBox: box(r.Result.BodyBox),
			Scores:   r.Result.Scores,
		}
		if fb := r.Result.FaceBox; fb != nil {
			b := box(*fb)
			e.FaceBBox = &b
		}
		if *annotateDir != "" {
			out, err := writeAnnotated(*annotateDir, e.Rank, e.Path, r.Result)
			if err != nil {
				return err
			}
			e.Annotated = out
		}
		rep.Results[i] = e
	}
	logger.Info("ranked", "images", rep.TotalImages, "scored", rep.Successful)

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(rep)
}

func writeAnnotated(dir string, rank int, path string, res *pipeline.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	img, err := pipeline.ReadImage(path)
	if err != nil {
		img.Close()
		return "", err
	}
	defer img.Close()

	data, err := annotate.PNG(img, res)
	if err != nil {
		return "", fmt.Errorf("annotate %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, fmt.Sprintf("camel_%03d_%s.png", rank, name))
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func box(r image.Rectangle) [4]int {
	return [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}
