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
	"bytes"
	"fmt"
)

// Gray is a single-channel 8-bit image stored row-major in one contiguous
// buffer. Row views are computed from the stride, never stored, so swapping
// two Gray values never leaves a stale row pointer behind.
type Gray struct {
	data   []uint8
	width  int
	height int
	stride int // elements per row
}

// NewGray creates a zeroed image with the specified dimensions.
// Non-positive dimensions yield an empty image.
func NewGray(width, height int) *Gray {
	if width <= 0 || height <= 0 {
		return &Gray{}
	}
	return &Gray{
		data:   make([]uint8, width*height),
		width:  width,
		height: height,
		stride: width,
	}
}

// FromPix wraps pix as a width x height image without copying.
func FromPix(width, height int, pix []uint8) (*Gray, error) {
	if width < 0 || height < 0 || len(pix) != width*height {
		return nil, fmt.Errorf("image: %d bytes cannot back a %dx%d image", len(pix), width, height)
	}
	if width == 0 || height == 0 {
		return &Gray{}, nil
	}
	return &Gray{data: pix, width: width, height: height, stride: width}, nil
}

// Width returns the image width in pixels.
func (img *Gray) Width() int {
	return img.width
}

// Height returns the image height in pixels.
func (img *Gray) Height() int {
	return img.height
}

// Empty reports whether the image holds no pixels.
func (img *Gray) Empty() bool {
	return img == nil || img.data == nil
}

// Pix returns the contiguous backing buffer. Writes through it are visible
// in the image.
func (img *Gray) Pix() []uint8 {
	return img.data
}

// Row returns a mutable slice for row y, limited to the image width.
func (img *Gray) Row(y int) []uint8 {
	if y < 0 || y >= img.height || img.data == nil {
		return nil
	}
	start := y * img.stride
	return img.data[start : start+img.width]
}

// At returns the value at position (x, y), or zero outside the image.
func (img *Gray) At(x, y int) uint8 {
	if x < 0 || x >= img.width || y < 0 || y >= img.height || img.data == nil {
		return 0
	}
	return img.data[y*img.stride+x]
}

// Set sets the value at position (x, y). Out of bounds writes are ignored.
func (img *Gray) Set(x, y int, value uint8) {
	if x < 0 || x >= img.width || y < 0 || y >= img.height || img.data == nil {
		return
	}
	img.data[y*img.stride+x] = value
}

// SameSize returns true if both images have the same dimensions.
func SameSize(a, b *Gray) bool {
	return a.width == b.width && a.height == b.height
}

// Equal reports whether both images have the same size and pixels.
func Equal(a, b *Gray) bool {
	return SameSize(a, b) && bytes.Equal(a.data, b.data)
}

// Clone creates a deep copy of the image.
func (img *Gray) Clone() *Gray {
	if img.data == nil {
		return NewGray(0, 0)
	}
	clone := &Gray{
		data:   make([]uint8, len(img.data)),
		width:  img.width,
		height: img.height,
		stride: img.stride,
	}
	copy(clone.data, img.data)
	return clone
}

// Fill sets all pixels to the specified value.
func (img *Gray) Fill(value uint8) {
	for i := range img.data {
		img.data[i] = value
	}
}

// Release drops the backing buffer. Releasing twice is a no-op.
func (img *Gray) Release() {
	if img == nil {
		return
	}
	img.data = nil
	img.width, img.height, img.stride = 0, 0, 0
}

// Rect defines a rectangular region within an image.
type Rect struct {
	X0, Y0 int // Top-left corner (inclusive)
	X1, Y1 int // Bottom-right corner (exclusive)
}

// Width returns the rectangle width.
func (r Rect) Width() int {
	return r.X1 - r.X0
}

// Height returns the rectangle height.
func (r Rect) Height() int {
	return r.Y1 - r.Y0
}

// Area returns the number of pixels covered by the rectangle.
func (r Rect) Area() int {
	if r.IsEmpty() {
		return 0
	}
	return r.Width() * r.Height()
}

// IsEmpty returns true if the rectangle has zero or negative area.
func (r Rect) IsEmpty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// In reports whether r lies entirely inside other.
func (r Rect) In(other Rect) bool {
	return r.X0 >= other.X0 && r.Y0 >= other.Y0 && r.X1 <= other.X1 && r.Y1 <= other.Y1
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d)-[%d,%d)", r.X0, r.Y0, r.X1, r.Y1)
}

// Bounds returns the bounding rectangle of the image.
func (img *Gray) Bounds() Rect {
	return Rect{X0: 0, Y0: 0, X1: img.width, Y1: img.height}
}

// CopyRect packs the pixels of r row by row into dst, which must hold
// exactly r.Area() bytes.
func (img *Gray) CopyRect(r Rect, dst []uint8) error {
	if !r.In(img.Bounds()) {
		return fmt.Errorf("image: rect %v outside %v", r, img.Bounds())
	}
	if len(dst) != r.Area() {
		return fmt.Errorf("image: rect %v needs %d bytes, got %d", r, r.Area(), len(dst))
	}
	w := r.Width()
	for y := r.Y0; y < r.Y1; y++ {
		start := y*img.stride + r.X0
		copy(dst[(y-r.Y0)*w:], img.data[start:start+w])
	}
	return nil
}

// PasteRect is the inverse of CopyRect: it unpacks src row by row into r.
func (img *Gray) PasteRect(r Rect, src []uint8) error {
	if !r.In(img.Bounds()) {
		return fmt.Errorf("image: rect %v outside %v", r, img.Bounds())
	}
	if len(src) != r.Area() {
		return fmt.Errorf("image: rect %v needs %d bytes, got %d", r, r.Area(), len(src))
	}
	w := r.Width()
	for y := r.Y0; y < r.Y1; y++ {
		start := y*img.stride + r.X0
		copy(img.data[start:start+w], src[(y-r.Y0)*w:])
	}
	return nil
}
