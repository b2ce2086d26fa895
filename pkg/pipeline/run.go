package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/teslashibe/go-camelbeauty/pkg/score"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// ErrUnreadableImage is returned when an image cannot be decoded.
var ErrUnreadableImage = errors.New("pipeline: unreadable image")

// Result is the report for one image with a detected body.
type Result struct {
	BodyBox image.Rectangle
	FaceBox *image.Rectangle // full frame; nil when no face was detected

	// FacePresent reports whether a face region contributed to the scores.
	// It can be false with a FaceBox when the face crop was degenerate.
	FacePresent bool

	Scores score.Bundle
}

// Ranked is a batch result with its input position.
type Ranked struct {
	Index  int
	Result *Result
}

// ReadImage loads an image file as RGB.
func ReadImage(path string) (gocv.Mat, error) {
	bgr := gocv.IMRead(path, gocv.IMReadColor)
	if bgr.Empty() {
		bgr.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUnreadableImage, path)
	}
	defer bgr.Close()
	return toRGB(bgr), nil
}

// DecodeImage decodes encoded image bytes (JPEG, PNG, ...) as RGB.
func DecodeImage(data []byte) (gocv.Mat, error) {
	bgr, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || bgr.Empty() {
		bgr.Close()
		if err == nil {
			err = errors.New("empty image")
		}
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	defer bgr.Close()
	return toRGB(bgr), nil
}

func toRGB(bgr gocv.Mat) gocv.Mat {
	rgb := gocv.NewMat()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return rgb
}

// RunSingle scores one RGB image. It returns a nil Result and a nil error
// when no body is detected.
func (c *Context) RunSingle(ctx context.Context, img gocv.Mat) (*Result, error) {
	if img.Empty() {
		return nil, ErrUnreadableImage
	}

	out, err := c.cascade.Run(ctx, img)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	if !out.BodyFound {
		c.logger.Debug("no body detected", "width", img.Cols(), "height", img.Rows())
		return nil, nil
	}

	body, face, err := c.extractor.Extract(img, out)
	if err != nil {
		return nil, fmt.Errorf("extract regions: %w", err)
	}
	defer body.Close()
	defer face.Close()

	logits, err := c.scorer.ScoreOne(body, face)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}

	bundle, err := c.aggregator.Aggregate(logits)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	res := &Result{
		BodyBox:     out.Body.Box,
		FaceBox:     out.FaceBox(),
		FacePresent: face.IsPresent(),
		Scores:      bundle,
	}
	c.logger.Debug("image scored",
		"body", res.BodyBox,
		"face_present", res.FacePresent,
		"total", bundle.TotalScore,
	)
	return res, nil
}

// RunSingleFile reads and scores an image file. An unreadable file is
// logged and yields a nil Result, like an image without a body.
func (c *Context) RunSingleFile(ctx context.Context, path string) (*Result, error) {
	img, err := ReadImage(path)
	if err != nil {
		c.logger.Warn("skipping unreadable image", "path", path, "error", err)
		return nil, nil
	}
	defer img.Close()
	return c.RunSingle(ctx, img)
}

// RunBatch scores images independently and returns the ones with a body,
// ranked by total score. Empty images are skipped like images without a
// body. Up to Workers images run at once; the ranking is the same as a
// serial run.
func (c *Context) RunBatch(ctx context.Context, imgs []gocv.Mat) ([]Ranked, error) {
	return c.runBatch(ctx, len(imgs), func(ctx context.Context, i int) (*Result, error) {
		return c.RunSingle(ctx, imgs[i])
	})
}

// RunBatchFiles is RunBatch over image files. Ranked.Index refers to paths.
func (c *Context) RunBatchFiles(ctx context.Context, paths []string) ([]Ranked, error) {
	return c.runBatch(ctx, len(paths), func(ctx context.Context, i int) (*Result, error) {
		return c.RunSingleFile(ctx, paths[i])
	})
}

func (c *Context) runBatch(ctx context.Context, n int, run func(context.Context, int) (*Result, error)) ([]Ranked, error) {
	results := make([]*Result, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)
	for i := range n {
		g.Go(func() error {
			r, err := run(ctx, i)
			if errors.Is(err, ErrUnreadableImage) {
				c.logger.Warn("skipping unreadable image", "index", i, "error", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := Rank(results)
	c.logger.Info("batch ranked", "images", n, "scored", len(ranked))
	return ranked, nil
}

// Rank drops nil results and orders the rest by total score, highest first.
// Equal scores keep input order.
func Rank(results []*Result) []Ranked {
	ranked := make([]Ranked, 0, len(results))
	for i, r := range results {
		if r != nil {
			ranked = append(ranked, Ranked{Index: i, Result: r})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Result.Scores.TotalScore > ranked[j].Result.Scores.TotalScore
	})
	return ranked
}

// BodyBoxes returns the body boxes of ranked results in order.
func BodyBoxes(ranked []Ranked) []image.Rectangle {
	out := make([]image.Rectangle, len(ranked))
	for i, r := range ranked {
		out[i] = r.Result.BodyBox
	}
	return out
}

// Bundles returns the score bundles of ranked results in order.
func Bundles(ranked []Ranked) []score.Bundle {
	out := make([]score.Bundle, len(ranked))
	for i, r := range ranked {
		out[i] = r.Result.Scores
	}
	return out
}
