// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/teracyte/liveview/lib/imaging"
)

type imageResponse struct {
	ImageID         flexString `json:"image_id"`
	Timestamp       flexString `json:"timestamp"`
	ImageDataBase64 string     `json:"image_data_base64"`
}

type resultResponse struct {
	ImageID             flexString `json:"image_id"`
	IntensityAverage    flexNumber `json:"intensity_average"`
	FocusScore          flexNumber `json:"focus_score"`
	ClassificationLabel string     `json:"classification_label"`
	Histogram           []int      `json:"histogram"`
}

func parseImage(body []byte) (imaging.ImageFrame, error) {
	var response imageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return imaging.ImageFrame{}, &ProtocolError{Endpoint: imageEndpoint.name, Err: err}
	}
	if response.ImageID == "" {
		return imaging.ImageFrame{}, &ProtocolError{Endpoint: imageEndpoint.name, Err: errors.New("missing image_id")}
	}
	frame := imaging.ImageFrame{
		ID:             string(response.ImageID),
		Timestamp:      string(response.Timestamp),
		EncodedPayload: response.ImageDataBase64,
	}
	if captured, ok := imaging.ParseTimestamp(frame.Timestamp); ok {
		frame.CapturedAt = captured
	}
	return frame, nil
}

func parseResult(body []byte) (imaging.AnalysisResult, error) {
	var response resultResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return imaging.AnalysisResult{}, &ProtocolError{Endpoint: resultEndpoint.name, Err: err}
	}
	if response.ImageID == "" {
		return imaging.AnalysisResult{}, &ProtocolError{Endpoint: resultEndpoint.name, Err: errors.New("missing image_id")}
	}
	return imaging.AnalysisResult{
		ImageID:          string(response.ImageID),
		IntensityAverage: float64(response.IntensityAverage),
		FocusScore:       float64(response.FocusScore),
		Label:            response.ClassificationLabel,
		Histogram:        response.Histogram,
	}, nil
}

// flexString accepts a JSON string or number; ids and timestamps have
// been seen as both.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexString(value)
	default:
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*s = flexString(number.String())
	}
	return nil
}

// flexNumber accepts a JSON number or a string holding one. An
// explicit null decodes to NaN so the result fails validity checks
// instead of reading as a legitimate zero.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = flexNumber(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return fmt.Errorf("expected numeric string, got %q", text)
		}
		*n = flexNumber(value)
		return nil
	}
	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*n = flexNumber(value)
	return nil
}
