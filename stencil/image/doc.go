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

// Package image provides the single-channel 8-bit image type shared by the
// stencil packages.
//
// A Gray stores its pixels in one contiguous buffer addressed through a
// stride, so a tile, a halo band and a whole image are all the same type:
//
//	tile := image.NewGray(640, 480)
//	for y := range tile.Height() {
//	    row := tile.Row(y)
//	    // row[x] is pixel (x, y)
//	}
//
// # Sub-rectangles
//
// CopyRect and PasteRect move a rectangle between a Gray and a packed
// row-major buffer. They are the building blocks for scattering tiles out of
// a full image and gathering them back.
//
// # File I/O
//
// Load reads a BMP or PNG file and averages its color channels into a Gray.
// Save maps a Gray back onto an RGB image with equal channels and writes it
// in the format implied by the file extension.
package image
