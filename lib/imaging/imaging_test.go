// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/bmp"
)

func testImage(width, height int) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			gray.SetGray(x, y, color.Gray{Y: uint8(x * y)})
		}
	}
	return gray
}

func encodePNG(t *testing.T, width, height int) string {
	t.Helper()
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, testImage(width, height)); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buffer.Bytes())
}

func TestProblems(t *testing.T) {
	valid := AnalysisResult{ImageID: "img-1", IntensityAverage: 12.3, FocusScore: 0.7, Label: "OK"}

	tests := []struct {
		name   string
		mutate func(*AnalysisResult)
		want   []Problem
	}{
		{name: "valid", mutate: func(*AnalysisResult) {}},
		{name: "focus at lower bound", mutate: func(r *AnalysisResult) { r.FocusScore = 0 }},
		{name: "focus at upper bound", mutate: func(r *AnalysisResult) { r.FocusScore = 1 }},
		{name: "zero intensity", mutate: func(r *AnalysisResult) { r.IntensityAverage = 0 }},
		{name: "huge intensity", mutate: func(r *AnalysisResult) { r.IntensityAverage = 1e12 }},
		{name: "sentinel", mutate: func(r *AnalysisResult) { r.Label = "UNKNOWN_CLASSIFICATION" },
			want: []Problem{ProblemSentinelLabel}},
		{name: "sentinel lower case", mutate: func(r *AnalysisResult) { r.Label = "unknown_classification" },
			want: []Problem{ProblemSentinelLabel}},
		{name: "label containing sentinel", mutate: func(r *AnalysisResult) { r.Label = "UNKNOWN_CLASSIFICATION_V2" }},
		{name: "negative intensity", mutate: func(r *AnalysisResult) { r.IntensityAverage = -0.01 },
			want: []Problem{ProblemNegativeIntensity}},
		{name: "focus above one", mutate: func(r *AnalysisResult) { r.FocusScore = 1.0001 },
			want: []Problem{ProblemFocusOutOfRange}},
		{name: "focus below zero", mutate: func(r *AnalysisResult) { r.FocusScore = -0.5 },
			want: []Problem{ProblemFocusOutOfRange}},
		{name: "NaN focus", mutate: func(r *AnalysisResult) { r.FocusScore = math.NaN() },
			want: []Problem{ProblemNotANumber}},
		{name: "everything wrong", mutate: func(r *AnalysisResult) {
			r.Label = "Unknown_Classification"
			r.IntensityAverage = -1
			r.FocusScore = 2
		}, want: []Problem{ProblemSentinelLabel, ProblemNegativeIntensity, ProblemFocusOutOfRange}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := valid
			test.mutate(&result)
			got := result.Problems()
			if !slices.Equal(got, test.want) {
				t.Fatalf("Problems() = %v, want %v", got, test.want)
			}
			err := result.Validate()
			if len(test.want) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var validityError *ValidityError
			if !errors.As(err, &validityError) {
				t.Fatalf("Validate() = %v, want *ValidityError", err)
			}
			if validityError.ImageID != "img-1" {
				t.Errorf("ValidityError.ImageID = %q", validityError.ImageID)
			}
		})
	}
}

func TestDecodePayloadPNG(t *testing.T) {
	encoded := encodePNG(t, 8, 4)
	decoded, err := DecodePayload(ImageFrame{ID: "img-1", EncodedPayload: encoded})
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.Format != "png" || decoded.Width != 8 || decoded.Height != 4 {
		t.Errorf("decoded = %+v, want png 8x4", decoded)
	}
	raw, _ := base64.StdEncoding.DecodeString(encoded)
	if decoded.Size != len(raw) {
		t.Errorf("Size = %d, want %d", decoded.Size, len(raw))
	}
	if decoded.Digest != Digest(raw) || len(decoded.Digest) != 64 {
		t.Errorf("Digest = %q", decoded.Digest)
	}
}

func TestDecodePayloadToleratesFormatting(t *testing.T) {
	encoded := encodePNG(t, 3, 3)

	var wrapped strings.Builder
	for index := 0; index < len(encoded); index += 20 {
		end := min(index+20, len(encoded))
		wrapped.WriteString(encoded[index:end])
		wrapped.WriteString("\r\n")
	}

	inputs := map[string]string{
		"line wrapped": wrapped.String(),
		"data uri":     "data:image/png;base64," + encoded,
		"unpadded":     strings.TrimRight(encoded, "="),
		"padded space": "  " + encoded + "\n",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodePayload(ImageFrame{ID: "img", EncodedPayload: input}); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
		})
	}
}

func TestDecodePayloadBMP(t *testing.T) {
	var buffer bytes.Buffer
	if err := bmp.Encode(&buffer, testImage(5, 2)); err != nil {
		t.Fatalf("bmp.Encode: %v", err)
	}
	decoded, err := DecodePayload(ImageFrame{
		ID:             "img-bmp",
		EncodedPayload: base64.StdEncoding.EncodeToString(buffer.Bytes()),
	})
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.Format != "bmp" || decoded.Width != 5 || decoded.Height != 2 {
		t.Errorf("decoded = %+v, want bmp 5x2", decoded)
	}
}

func TestDecodePayloadFailures(t *testing.T) {
	truncated := encodePNG(t, 16, 16)
	raw, _ := base64.StdEncoding.DecodeString(truncated)
	truncated = base64.StdEncoding.EncodeToString(raw[:len(raw)/2])

	tests := map[string]string{
		"empty":           "",
		"whitespace only": " \n ",
		"not base64":      "this is not base64!!",
		"not an image":    base64.StdEncoding.EncodeToString([]byte("plain text, no image header")),
		"truncated png":   truncated,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload(ImageFrame{ID: "img-x", EncodedPayload: payload})
			var decodeError *DecodeError
			if !errors.As(err, &decodeError) {
				t.Fatalf("DecodePayload = %v, want *DecodeError", err)
			}
			if decodeError.ImageID != "img-x" {
				t.Errorf("DecodeError.ImageID = %q", decodeError.ImageID)
			}
		})
	}
}

func TestDigestIsKeyed(t *testing.T) {
	if Digest([]byte("a")) == Digest([]byte("b")) {
		t.Fatal("distinct inputs share a digest")
	}
	if Digest([]byte("a")) != Digest([]byte("a")) {
		t.Fatal("digest is not deterministic")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{raw: "2026-03-01T10:20:30Z", want: time.Date(2026, 3, 1, 10, 20, 30, 0, time.UTC), ok: true},
		{raw: "2026-03-01T10:20:30.250+02:00", want: time.Date(2026, 3, 1, 8, 20, 30, 250e6, time.UTC), ok: true},
		{raw: "2026-03-01T10:20:30", want: time.Date(2026, 3, 1, 10, 20, 30, 0, time.Local), ok: true},
		{raw: "2026-03-01 10:20:30", want: time.Date(2026, 3, 1, 10, 20, 30, 0, time.Local), ok: true},
		{raw: "1767225600", want: time.Unix(1767225600, 0), ok: true},
		{raw: "", ok: false},
		{raw: "yesterday", ok: false},
	}
	for _, test := range tests {
		got, ok := ParseTimestamp(test.raw)
		if ok != test.ok {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", test.raw, ok, test.ok)
			continue
		}
		if ok && !got.Equal(test.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", test.raw, got, test.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	summary := AnalysisResult{Histogram: []int{3, 9, 1, 9}}.Summarize()
	want := HistogramSummary{Bins: 4, Total: 22, PeakBin: 1, PeakCount: 9}
	if summary != want {
		t.Errorf("Summarize() = %+v, want %+v", summary, want)
	}
	if empty := (AnalysisResult{}).Summarize(); empty.PeakBin != -1 || empty.Bins != 0 {
		t.Errorf("empty Summarize() = %+v", empty)
	}
}
