// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded, encoding-aware HTTP body handling
// shared by the imaging service client and the mock service.
//
// Response bodies are read through a size limit so a misbehaving
// server cannot exhaust memory, and are transparently decompressed
// when the server answered with zstd or gzip Content-Encoding.
package netutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxResponseSize bounds response body reads: 64 MB. Image payloads
// arrive base64-encoded inside JSON, so this is sized for large frames
// rather than for small API documents.
const MaxResponseSize int64 = 64 << 20

// AcceptEncoding is the Accept-Encoding value sent by clients that
// read bodies with ReadResponse.
const AcceptEncoding = "zstd, gzip"

// maxErrorBody is the number of bytes of an error body kept for
// diagnostic messages.
const maxErrorBody = 200

// ReadResponse reads and decodes the body of response up to
// MaxResponseSize decoded bytes. The body is not closed.
func ReadResponse(response *http.Response) ([]byte, error) {
	limited := io.LimitReader(response.Body, MaxResponseSize)

	encoding := strings.ToLower(strings.TrimSpace(response.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return io.ReadAll(limited)
	case "gzip":
		reader, err := gzip.NewReader(limited)
		if err != nil {
			return nil, fmt.Errorf("netutil: opening gzip body: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(io.LimitReader(reader, MaxResponseSize))
	case "zstd":
		decoder, err := zstd.NewReader(limited, zstd.WithDecoderMaxMemory(uint64(MaxResponseSize)))
		if err != nil {
			return nil, fmt.Errorf("netutil: opening zstd body: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(io.LimitReader(decoder, MaxResponseSize))
	default:
		return nil, fmt.Errorf("netutil: unsupported Content-Encoding %q", encoding)
	}
}

// ErrorBody reads an error response for use in a diagnostic message,
// truncated to a short prefix. Read failures yield whatever was read.
func ErrorBody(response *http.Response) string {
	data, _ := ReadResponse(response)
	return Truncate(string(bytes.TrimSpace(data)), maxErrorBody)
}

// Truncate shortens text to at most limit bytes, marking the cut.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// NegotiateEncoding picks the response encoding for an Accept-Encoding
// request header: zstd preferred, then gzip, else identity ("").
func NegotiateEncoding(accept string) string {
	var gzipOK bool
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if quality, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if value, err := strconv.ParseFloat(quality, 64); err == nil && value == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "zstd":
			return "zstd"
		case "gzip":
			gzipOK = true
		}
	}
	if gzipOK {
		return "gzip"
	}
	return ""
}

// Compress encodes data for the given Content-Encoding ("" returns
// data unchanged).
func Compress(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case "":
		return data, nil
	case "gzip":
		var buffer bytes.Buffer
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("netutil: gzip: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("netutil: gzip: %w", err)
		}
		return buffer.Bytes(), nil
	case "zstd":
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("netutil: zstd: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("netutil: unsupported encoding %q", encoding)
	}
}
