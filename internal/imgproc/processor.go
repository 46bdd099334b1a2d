// Package imgproc is the built-in implementation of the processing pipeline:
// crop to document geometry, quality check, background flatten, and save.
package imgproc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/kadrio/idphoto/internal/dispatch"
	"github.com/kadrio/idphoto/pkg/models"
)

const jpegQuality = 92

// Processor transforms one uploaded portrait into a document photo.
type Processor struct {
	log *slog.Logger
}

// New creates a Processor.
func New(log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{log: log}
}

// Process crops the source to the document geometry, flattens the background
// onto white, resamples to the target resolution, and writes a JPEG into
// outputDir. The background and resampling steps run only when the crop
// succeeded. On fatal failure the source is preserved in errorDir for
// inspection and an error is returned; quality findings that do not stop
// processing come back as warnings.
func (p *Processor) Process(_ context.Context, inputPath, outputDir, errorDir string, params models.DocumentParams) (dispatch.Result, error) {
	var res dispatch.Result

	src, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		p.preserveForInspection(inputPath, errorDir)
		return res, fmt.Errorf("open source image: %w", err)
	}

	cropped, warnings, err := cropToDocument(src, params)
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		p.preserveForInspection(inputPath, errorDir)
		return res, err
	}

	flattened := flattenBackground(cropped)
	final := imaging.Resize(flattened, params.ResX, params.ResY, imaging.Lanczos)

	outPath := filepath.Join(outputDir, outputName(inputPath))
	if err := imaging.Save(final, outPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return res, fmt.Errorf("save output: %w", err)
	}

	p.log.Info("image processed", "input", inputPath, "output", outPath,
		"resolution", fmt.Sprintf("%dx%d", params.ResX, params.ResY))
	return res, nil
}

// cropToDocument selects the largest window matching the target aspect
// ratio, shrunk by the horizontal margin and anchored vertically by the
// top/bottom margin ratio.
func cropToDocument(src image.Image, params models.DocumentParams) (image.Image, []string, error) {
	if params.ResX <= 0 || params.ResY <= 0 {
		return nil, nil, errors.New("invalid target resolution")
	}

	b := src.Bounds()
	var warnings []string
	if b.Dx() < params.ResX || b.Dy() < params.ResY {
		warnings = append(warnings, fmt.Sprintf(
			"source %dx%d is smaller than target %dx%d, output will be upscaled",
			b.Dx(), b.Dy(), params.ResX, params.ResY))
	}

	aspect := float64(params.ResX) / float64(params.ResY)
	cw := b.Dx()
	ch := int(float64(cw) / aspect)
	if ch > b.Dy() {
		ch = b.Dy()
		cw = int(float64(ch) * aspect)
	}
	if params.LeftRightMargin > 0 && params.LeftRightMargin < 0.5 {
		cw = int(float64(cw) * (1 - 2*params.LeftRightMargin))
		ch = int(float64(cw) / aspect)
	}
	if cw < 1 || ch < 1 {
		return nil, warnings, errors.New("crop window is empty")
	}

	// More bottom margin pushes the window toward the top of the frame,
	// where the subject's head sits in a portrait.
	bias := 0.5
	if params.TopMargin+params.BottomMargin > 0 {
		bias = params.TopMargin / (params.TopMargin + params.BottomMargin)
	}
	x := b.Min.X + (b.Dx()-cw)/2
	y := b.Min.Y + int(float64(b.Dy()-ch)*bias)

	out := imaging.Crop(src, image.Rect(x, y, x+cw, y+ch))
	if out.Bounds().Empty() {
		return nil, warnings, errors.New("crop window is empty")
	}
	return out, warnings, nil
}

// flattenBackground composites the image onto a white canvas so transparent
// sources come out with a uniform background.
func flattenBackground(src image.Image) image.Image {
	b := src.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(canvas, src, image.Pt(0, 0), 1.0)
}

// preserveForInspection copies the failed source into errorDir. Best effort:
// a copy failure is logged, never propagated.
func (p *Processor) preserveForInspection(inputPath, errorDir string) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		p.log.Error("preserve failed source: read", "input", inputPath, "error", err)
		return
	}
	dst := filepath.Join(errorDir, filepath.Base(inputPath))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		p.log.Error("preserve failed source: write", "dst", dst, "error", err)
	}
}

func outputName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".jpg"
}
