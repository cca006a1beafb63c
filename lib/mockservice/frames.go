// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mockservice

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"github.com/teracyte/liveview/lib/imaging"
)

const histogramBins = 16

var labels = []string{"CELL_CLUSTER", "SPARSE_CELLS", "DENSE_FIELD", "EMPTY_FIELD"}

// frame is one generated capture and its analysis.
type frame struct {
	index      int
	id         string
	capturedAt time.Time
	payload    string

	intensity float64
	focus     float64
	label     string
	histogram []int
}

type imageBody struct {
	ImageID         string `json:"image_id"`
	Timestamp       string `json:"timestamp"`
	ImageDataBase64 string `json:"image_data_base64"`
}

type resultBody struct {
	ImageID             string  `json:"image_id"`
	IntensityAverage    float64 `json:"intensity_average"`
	FocusScore          float64 `json:"focus_score"`
	ClassificationLabel string  `json:"classification_label"`
	Histogram           []int   `json:"histogram"`
}

func (f *frame) image() imageBody {
	return imageBody{
		ImageID:         f.id,
		Timestamp:       f.capturedAt.UTC().Format(time.RFC3339Nano),
		ImageDataBase64: f.payload,
	}
}

func (f *frame) result() resultBody {
	return resultBody{
		ImageID:             f.id,
		IntensityAverage:    f.intensity,
		FocusScore:          f.focus,
		ClassificationLabel: f.label,
		Histogram:           f.histogram,
	}
}

// generateFrame renders frame index as a grayscale PNG and derives the
// analysis from its pixels: the mean intensity, a 16-bin histogram,
// and a focus score from the mean horizontal gradient. Every
// sentinelEvery-th frame (when positive) carries the sentinel label.
func generateFrame(index int, capturedAt time.Time, width, height, sentinelEvery int) (*frame, error) {
	picture := image.NewGray(image.Rect(0, 0, width, height))
	phase := float64(index) * 0.7
	for y := range height {
		for x := range width {
			wave := math.Sin(float64(x)/6+phase) * math.Cos(float64(y)/5-phase/2)
			value := 128 + 100*wave*float64(1+index%3)/3
			picture.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, value)))})
		}
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, picture); err != nil {
		return nil, fmt.Errorf("mockservice: encoding frame %d: %w", index, err)
	}

	histogram := make([]int, histogramBins)
	var sum, gradient float64
	for y := range height {
		for x := range width {
			value := picture.GrayAt(x, y).Y
			histogram[int(value)*histogramBins/256]++
			sum += float64(value)
			if x > 0 {
				gradient += math.Abs(float64(value) - float64(picture.GrayAt(x-1, y).Y))
			}
		}
	}
	pixels := float64(width * height)

	label := labels[index%len(labels)]
	if sentinelEvery > 0 && index > 0 && index%sentinelEvery == 0 {
		label = imaging.SentinelLabel
	}

	return &frame{
		index:      index,
		id:         fmt.Sprintf("img-%d", index),
		capturedAt: capturedAt,
		payload:    base64.StdEncoding.EncodeToString(encoded.Bytes()),
		intensity:  math.Round(sum/pixels*100) / 100,
		focus:      math.Round(math.Min(1, gradient/pixels/64)*1000) / 1000,
		label:      label,
		histogram:  histogram,
	}, nil
}
