// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strings"

	// Formats the service may send. The standard library covers
	// PNG, JPEG, and GIF; x/image adds the rest.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/zeebo/blake3"
)

// MaxPixels bounds the dimensions a payload may declare before it is
// fully decoded.
const MaxPixels = 64 << 20

// frameDomainKey separates payload digests from any other BLAKE3 use.
var frameDomainKey = [32]byte{
	'l', 'i', 'v', 'e', 'v', 'i', 'e', 'w', '.', 'f', 'r', 'a', 'm', 'e',
}

// Decoded describes a payload that decoded to a complete image.
type Decoded struct {
	Format string
	Width  int
	Height int

	// Size is the number of bytes after base64 decoding.
	Size int

	// Digest is the hex keyed BLAKE3-256 of the decoded bytes.
	Digest string
}

// DecodeError reports a payload that is not a usable image.
type DecodeError struct {
	ImageID string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imaging: payload for %q is not a valid image: %v", e.ImageID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrEmptyPayload is wrapped by a DecodeError for frames without data.
var ErrEmptyPayload = errors.New("empty payload")

// DecodePayload decodes frame's base64 payload and verifies that it is
// a complete image in a registered format. Whitespace and line breaks
// inside the base64 text are ignored, as is a data URI prefix.
func DecodePayload(frame ImageFrame) (Decoded, error) {
	data, err := decodeBase64(frame.EncodedPayload)
	if err != nil {
		return Decoded{}, &DecodeError{ImageID: frame.ID, Err: err}
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, &DecodeError{ImageID: frame.ID, Err: err}
	}
	if config.Width <= 0 || config.Height <= 0 || int64(config.Width)*int64(config.Height) > MaxPixels {
		return Decoded{}, &DecodeError{
			ImageID: frame.ID,
			Err:     fmt.Errorf("unreasonable dimensions %dx%d", config.Width, config.Height),
		}
	}

	decodedImage, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, &DecodeError{ImageID: frame.ID, Err: err}
	}
	bounds := decodedImage.Bounds()

	return Decoded{
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Size:   len(data),
		Digest: Digest(data),
	}, nil
}

// Digest returns the hex keyed BLAKE3-256 of data.
func Digest(data []byte) string {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("imaging: " + err.Error())
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func decodeBase64(encoded string) ([]byte, error) {
	if _, rest, found := strings.Cut(encoded, ";base64,"); found && strings.HasPrefix(encoded, "data:") {
		encoded = rest
	}
	encoded = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, encoded)
	if encoded == "" {
		return nil, ErrEmptyPayload
	}

	encoding := base64.StdEncoding
	if len(encoded)%4 != 0 {
		encoding = base64.RawStdEncoding
	}
	data, err := encoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}
