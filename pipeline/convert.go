package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"

	"astro-live-stacker/camera"
)

const previewJPEGQuality = 90

// bayerGrid returns the 2x2 color layout of a pattern, indexed
// [y&1][x&1], with 0=R 1=G 2=B.
func bayerGrid(pattern camera.BayerPattern) ([2][2]int, bool) {
	switch pattern {
	case camera.BayerRGGB:
		return [2][2]int{{0, 1}, {1, 2}}, true
	case camera.BayerGRBG:
		return [2][2]int{{1, 0}, {2, 1}}, true
	case camera.BayerBGGR:
		return [2][2]int{{2, 1}, {1, 0}}, true
	case camera.BayerGBRG:
		return [2][2]int{{1, 2}, {0, 1}}, true
	default:
		return [2][2]int{}, false
	}
}

// demosaic reconstructs a 3-channel image from a Bayer-filtered frame by
// bilinear interpolation. depth is 8 or 16; 16-bit samples are
// little-endian. An unrecognized pattern fails.
func demosaic(data []byte, width, height, depth int, pattern camera.BayerPattern) (*Image, error) {
	grid, ok := bayerGrid(pattern)
	if !ok {
		return nil, fmt.Errorf("%w: %s", camera.ErrInvalidBayer, pattern)
	}

	get := func(x, y int) uint32 {
		if depth == 8 {
			return uint32(data[y*width+x])
		}
		return uint32(binary.LittleEndian.Uint16(data[(y*width+x)*2:]))
	}

	bytesPer := depth / 8
	out := &Image{Width: width, Height: height, Channels: 3, Depth: depth,
		Data: make([]byte, width*height*3*bytesPer)}

	put := func(x, y, ch int, v uint32) {
		off := ((y*width+x)*3 + ch) * bytesPer
		if depth == 8 {
			out.Data[off] = byte(v)
		} else {
			binary.LittleEndian.PutUint16(out.Data[off:], uint16(v))
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			own := grid[y&1][x&1]
			for ch := 0; ch < 3; ch++ {
				if ch == own {
					put(x, y, ch, get(x, y))
					continue
				}
				// Average the neighbors of this color in the 3x3 window
				var sum, n uint32
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := x+dx, y+dy
						if nx < 0 || ny < 0 || nx >= width || ny >= height {
							continue
						}
						if grid[ny&1][nx&1] == ch {
							sum += get(nx, ny)
							n++
						}
					}
				}
				if n > 0 {
					put(x, y, ch, sum/n)
				}
			}
		}
	}
	return out, nil
}

// yuyvToRGB converts a packed YUYV (YUV422) frame to 8-bit RGB using the
// BT.601 full-range transform.
func yuyvToRGB(data []byte, width, height int) *Image {
	out := &Image{Width: width, Height: height, Channels: 3, Depth: 8,
		Data: make([]byte, width*height*3)}

	clamp := func(v int) byte {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return byte(v)
	}

	for y := 0; y < height; y++ {
		row := data[y*width*2 : (y+1)*width*2]
		for x := 0; x < width; x += 2 {
			y0 := int(row[x*2])
			u := int(row[x*2+1]) - 128
			// An odd width leaves the last pixel of each row without its
			// second luma sample or the V chroma byte; repeat the luma and
			// treat the chroma as neutral rather than reading past the row.
			y1, v := y0, 0
			if x+1 < width {
				y1 = int(row[x*2+2])
				v = int(row[x*2+3]) - 128
			}

			for i, yv := range []int{y0, y1} {
				if x+i >= width {
					break
				}
				off := (y*width + x + i) * 3
				out.Data[off] = clamp(yv + (351*v)/256)
				out.Data[off+1] = clamp(yv - (179*v+86*u)/256)
				out.Data[off+2] = clamp(yv + (443*u)/256)
			}
		}
	}
	return out
}

// wrapInterleaved views raw interleaved pixel data as an Image without copying.
func wrapInterleaved(data []byte, width, height, channels, depth int) *Image {
	return &Image{Width: width, Height: height, Channels: channels, Depth: depth, Data: data}
}

// rescaleTo8 converts an image to 8-bit depth, scaling sample values by
// 255/dynamicRange. 8-bit input at dynamic range 255 is returned as is.
func rescaleTo8(img *Image, dynamicRange int) *Image {
	if img.Depth == 8 && dynamicRange == 255 {
		return img
	}
	out := &Image{Width: img.Width, Height: img.Height, Channels: img.Channels, Depth: 8,
		Data: make([]byte, img.Width*img.Height*img.Channels)}

	factor := 255.0 / float64(dynamicRange)
	n := img.Width * img.Height * img.Channels
	for i := 0; i < n; i++ {
		var v float64
		if img.Depth == 8 {
			v = float64(img.Data[i])
		} else {
			v = float64(binary.LittleEndian.Uint16(img.Data[i*2:]))
		}
		s := v * factor
		if s > 255 {
			s = 255
		}
		out.Data[i] = byte(s)
	}
	return out
}

// encodeJPEG compresses an 8-bit image (1 or 3 channels) to JPEG.
func encodeJPEG(img *Image) ([]byte, error) {
	if img.Depth != 8 {
		return nil, fmt.Errorf("jpeg encode requires 8-bit input, got %d-bit", img.Depth)
	}

	var src image.Image
	switch img.Channels {
	case 1:
		g := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
		copy(g.Pix, img.Data)
		src = g
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
		for i := 0; i < img.Width*img.Height; i++ {
			rgba.Pix[i*4] = img.Data[i*3]
			rgba.Pix[i*4+1] = img.Data[i*3+1]
			rgba.Pix[i*4+2] = img.Data[i*3+2]
			rgba.Pix[i*4+3] = 255
		}
		src = rgba
	default:
		return nil, fmt.Errorf("jpeg encode supports 1 or 3 channels, got %d", img.Channels)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: previewJPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeJPEG decompresses a JPEG frame into an 8-bit image.
func decodeJPEG(data []byte) (*Image, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode failed: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if g, ok := src.(*image.Gray); ok {
		out := &Image{Width: w, Height: h, Channels: 1, Depth: 8, Data: make([]byte, w*h)}
		for y := 0; y < h; y++ {
			copy(out.Data[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return out, nil
	}

	out := &Image{Width: w, Height: h, Channels: 3, Depth: 8, Data: make([]byte, w*h*3)}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			out.Data[i] = byte(r >> 8)
			out.Data[i+1] = byte(g >> 8)
			out.Data[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return out, nil
}
