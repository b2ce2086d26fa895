package web

import (
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camelbeauty/pkg/annotate"
	"github.com/teslashibe/go-camelbeauty/pkg/pipeline"
)

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"service":       ServiceName,
		"models_loaded": s.runner != nil,
	})
}

// handleModels returns the configured model files
func (s *Server) handleModels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"models":  s.cfg.Models,
	})
}

// handleDetectSingle scores one uploaded image (form field "image")
func (s *Server) handleDetectSingle(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No image provided")
	}
	if fh.Filename == "" {
		return fail(c, fiber.StatusBadRequest, "Empty filename")
	}

	img, err := decodeUpload(fh)
	if err != nil {
		img.Close()
		s.logger.Warn("undecodable upload", "file", fh.Filename, "error", err)
		return fail(c, fiber.StatusBadRequest, "Could not decode image")
	}
	defer img.Close()

	res, err := s.runner.RunSingle(c.UserContext(), img)
	if err != nil {
		s.logger.Error("inference failed", "file", fh.Filename, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Inference error: "+err.Error())
	}
	if res == nil {
		return fail(c, fiber.StatusBadRequest, "No camel body detected in the image")
	}

	det, err := newDetection(img, res)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Inference error: "+err.Error())
	}

	s.publish(newEvent("single", requestID(c), 1, []pipeline.Ranked{{Result: res}}))

	return c.JSON(singleResponse{Success: true, detection: det})
}

// handleDetectBatch scores uploaded images (form field "images") and
// returns the ones with a body, best first
func (s *Server) handleDetectBatch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No images provided")
	}
	files, ok := form.File["images"]
	if !ok {
		return fail(c, fiber.StatusBadRequest, "No images provided")
	}
	if len(files) == 0 {
		return fail(c, fiber.StatusBadRequest, "No images in request")
	}

	imgs := make([]gocv.Mat, 0, len(files))
	defer func() {
		for _, img := range imgs {
			img.Close()
		}
	}()
	for _, fh := range files {
		if fh.Filename == "" {
			continue
		}
		img, err := decodeUpload(fh)
		if err != nil {
			img.Close()
			s.logger.Warn("skipping undecodable upload", "file", fh.Filename, "error", err)
			continue
		}
		imgs = append(imgs, img)
	}
	if len(imgs) == 0 {
		return fail(c, fiber.StatusBadRequest, "No valid images uploaded")
	}

	ranked, err := s.runner.RunBatch(c.UserContext(), imgs)
	if err != nil {
		s.logger.Error("batch inference failed", "images", len(imgs), "error", err)
		return fail(c, fiber.StatusInternalServerError, "Batch inference error: "+err.Error())
	}

	results := make([]detection, 0, len(ranked))
	for i, r := range ranked {
		det, err := newDetection(imgs[r.Index], r.Result)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, "Batch inference error: "+err.Error())
		}
		rank := i + 1
		det.ImageID = fmt.Sprintf("camel_%03d", rank)
		det.Rank = rank
		results = append(results, det)
	}

	s.publish(newEvent("batch", requestID(c), len(files), ranked))

	return c.JSON(batchResponse{
		Success:     true,
		TotalImages: len(files),
		Successful:  len(results),
		Failed:      len(files) - len(results),
		Results:     results,
	})
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

func requestID(c *fiber.Ctx) string {
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

// decodeUpload returns an RGB image. The Mat must be closed even on error.
func decodeUpload(fh *multipart.FileHeader) (gocv.Mat, error) {
	f, err := fh.Open()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return gocv.NewMat(), err
	}
	return pipeline.DecodeImage(data)
}

func newDetection(img gocv.Mat, res *pipeline.Result) (detection, error) {
	b64, err := annotate.Base64PNG(img, res)
	if err != nil {
		return detection{}, err
	}
	return detection{
		BodyBBox:    box(res.BodyBox),
		FaceBBox:    optionalBox(res.FaceBox),
		Results:     newReport(res.Scores),
		ImageBase64: b64,
	}, nil
}

func (s *Server) publish(ev Event) {
	if s.notify != nil {
		s.notify(ev)
		return
	}
	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("event not published", "type", ev.Type, "error", err)
	}
}

func newEvent(kind, id string, images int, ranked []pipeline.Ranked) Event {
	ev := Event{
		Type:      kind,
		RequestID: id,
		Time:      time.Now().UTC(),
		Images:    images,
		Results:   make([]EventResult, len(ranked)),
	}
	for i, r := range ranked {
		b := r.Result.Scores
		ev.Results[i] = EventResult{
			Rank:       i + 1,
			TotalScore: b.TotalScore,
			StarRating: b.StarRating,
			Category:   b.Category.PredictedLabel,
		}
	}
	return ev
}
