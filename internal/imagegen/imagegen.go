// Package imagegen drives the pure generation tools: it snaps requested
// sizes onto what a model supports and decodes the base64 images returned.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/InsulaLabs/txt2img/internal/upstream"
)

var ErrNoSupportedSizes = errors.New("supported sizes must be provided and not empty")

const (
	defaultMime    = "image/png"
	responseFormat = "b64_json"
)

func parseSize(s string) (int, int, bool) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}

// FindClosestSize returns requested when it is supported. Otherwise it picks
// the entry minimising ratioDiff*100 + pixelDiff/10000; the earliest entry
// wins ties. An unparsable request yields the first supported size.
func FindClosestSize(requested string, supported []string) (string, error) {
	if len(supported) == 0 {
		return "", ErrNoSupportedSizes
	}
	if slices.Contains(supported, requested) {
		return requested, nil
	}

	reqW, reqH, ok := parseSize(requested)
	if !ok || reqH == 0 {
		return supported[0], nil
	}
	reqRatio := float64(reqW) / float64(reqH)
	reqPixels := float64(reqW) * float64(reqH)

	closest := supported[0]
	closestDiff := math.Inf(1)
	for _, size := range supported {
		w, h, ok := parseSize(size)
		if !ok || h == 0 {
			continue
		}
		ratioDiff := math.Abs(reqRatio - float64(w)/float64(h))
		pixelDiff := math.Abs(reqPixels - float64(w)*float64(h))
		diff := ratioDiff*100 + pixelDiff/10000
		if diff < closestDiff {
			closestDiff = diff
			closest = size
		}
	}
	return closest, nil
}

// DecodeImage decodes bare base64 as png, or a data URI using its MIME type.
func DecodeImage(encoded string) (string, []byte, error) {
	if !strings.HasPrefix(encoded, "data:image") {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", nil, fmt.Errorf("decoding base64 image: %w", err)
		}
		return defaultMime, data, nil
	}

	header, payload, found := strings.Cut(encoded, ",")
	if !found {
		return "", nil, fmt.Errorf("data uri has no payload")
	}
	mimeType := strings.TrimPrefix(strings.SplitN(header, ";", 2)[0], "data:")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data uri payload: %w", err)
	}
	return mimeType, data, nil
}

type Image struct {
	MimeType string
	Data     []byte
}

// ProcessResponse decodes every returned image carrying b64_json, in order.
func ProcessResponse(logger *slog.Logger, resp *upstream.ImageGenerationResponse) ([]Image, error) {
	var images []Image
	for i, d := range resp.Data {
		if d.B64JSON == "" {
			logger.Debug("skipping image without b64_json", "index", i)
			continue
		}
		mimeType, data, err := DecodeImage(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		images = append(images, Image{MimeType: mimeType, Data: data})
	}
	return images, nil
}

type ImageGenerator interface {
	GenerateImages(ctx context.Context, in upstream.ImageGenerationRequest) (*upstream.ImageGenerationResponse, error)
}

// Request is one generation call.
type Request struct {
	Prompt         string
	Model          string
	Size           string
	SupportedSizes []string
}

func Generate(ctx context.Context, logger *slog.Logger, gen ImageGenerator, r Request) ([]Image, error) {
	size, err := FindClosestSize(r.Size, r.SupportedSizes)
	if err != nil {
		return nil, err
	}
	if size != r.Size {
		logger.Info("requested size not supported, using closest", "requested", r.Size, "size", size)
	}

	resp, err := gen.GenerateImages(ctx, upstream.ImageGenerationRequest{
		Prompt:         r.Prompt,
		Model:          r.Model,
		Size:           size,
		N:              1,
		ResponseFormat: responseFormat,
	})
	if err != nil {
		return nil, err
	}
	return ProcessResponse(logger, resp)
}
