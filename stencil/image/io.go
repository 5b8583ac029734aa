// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package image

import (
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/image/bmp"
)

// Decode reads a BMP or PNG stream and extracts the average of its color
// channels into a Gray.
func Decode(r io.Reader) (*Gray, error) {
	src, _, err := stdimage.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	return ExtractAverage(src), nil
}

// ExtractAverage converts src to a Gray holding (r+g+b)/3 per pixel.
func ExtractAverage(src stdimage.Image) *Gray {
	b := src.Bounds()
	out := NewGray(b.Dx(), b.Dy())
	for y := 0; y < out.height; y++ {
		row := out.Row(y)
		for x := range row {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x] = uint8(((r >> 8) + (g >> 8) + (bl >> 8)) / 3)
		}
	}
	return out
}

// MapEqual expands img onto an RGBA image with all three channels equal.
func MapEqual(img *Gray) *stdimage.RGBA {
	out := stdimage.NewRGBA(stdimage.Rect(0, 0, img.width, img.height))
	for y := 0; y < img.height; y++ {
		for x, v := range img.Row(y) {
			out.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
		}
	}
	return out
}

// Load opens path and decodes it with Decode.
func Load(path string) (*Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: load %q: %w", path, err)
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image: load %q: %w", path, err)
	}
	return img, nil
}

// Encode writes img to w as BMP or PNG; format is "bmp" or "png".
func Encode(w io.Writer, img *Gray, format string) error {
	rgb := MapEqual(img)
	switch format {
	case "bmp":
		return bmp.Encode(w, rgb)
	case "png":
		return png.Encode(w, rgb)
	default:
		return fmt.Errorf("image: unsupported format %q", format)
	}
}

// Save writes img to path; the format follows the extension (.png, else BMP).
func Save(path string, img *Gray) (err error) {
	format := "bmp"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		format = "png"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("image: save %q: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err = Encode(f, img, format); err != nil {
		return fmt.Errorf("image: save %q: %w", path, err)
	}
	return nil
}
