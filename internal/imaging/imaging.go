// Package imaging holds the pure pixel helpers used around the capture
// pipeline: YUYV unpacking, flips, aspect-preserving resize with padding,
// and the keypoint overlay.
//
// Frames are packed RGB, 3 bytes per pixel, row-major.
package imaging

// YUYVToRGB converts a packed 4:2:2 YUYV frame to RGB using the BT.601
// limited-range (luma 16-235) conversion. Each 4-byte group Y0 U Y1 V yields two pixels sharing the
// chroma pair.
func YUYVToRGB(frame []byte, width, height int) []byte {
	rgb := make([]byte, width*height*3)

	n := width * height / 2 // YUYV groups
	if g := len(frame) / 4; g < n {
		n = g
	}

	for i := 0; i < n; i++ {
		y0 := int(frame[4*i])
		u := int(frame[4*i+1])
		y1 := int(frame[4*i+2])
		v := int(frame[4*i+3])

		putPixel(rgb[6*i:], y0, u, v)
		putPixel(rgb[6*i+3:], y1, u, v)
	}
	return rgb
}

func putPixel(dst []byte, y, u, v int) {
	c := 298 * (y - 16)
	d := u - 128
	e := v - 128

	dst[0] = clamp((c + 409*e + 128) >> 8)
	dst[1] = clamp((c - 100*d - 208*e + 128) >> 8)
	dst[2] = clamp((c + 516*d + 128) >> 8)
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// FlipHorizontal mirrors an RGB frame in place around its vertical axis.
func FlipHorizontal(rgb []byte, width, height int) {
	for row := 0; row < height; row++ {
		line := rgb[row*width*3 : (row+1)*width*3]
		for x, xr := 0, width-1; x < xr; x, xr = x+1, xr-1 {
			a, b := line[3*x:3*x+3], line[3*xr:3*xr+3]
			a[0], b[0] = b[0], a[0]
			a[1], b[1] = b[1], a[1]
			a[2], b[2] = b[2], a[2]
		}
	}
}

// ResizeWithPad scales an RGB frame to fit (tw, th) preserving aspect
// ratio, centering it on black borders. Bilinear sampling.
func ResizeWithPad(rgb []byte, width, height, tw, th int) []byte {
	if width <= 0 || height <= 0 {
		return make([]byte, tw*th*3)
	}

	// Fit the longer relative edge.
	var sw, sh int
	if float64(width)/float64(height) > float64(tw)/float64(th) {
		sw = tw
		sh = int(float64(tw) / float64(width) * float64(height))
	} else {
		sh = th
		sw = int(float64(th) / float64(height) * float64(width))
	}
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}

	scaled := resizeBilinear(rgb, width, height, sw, sh)

	out := make([]byte, tw*th*3)
	top := (th - sh) / 2
	left := (tw - sw) / 2
	for row := 0; row < sh; row++ {
		src := scaled[row*sw*3 : (row+1)*sw*3]
		dst := out[((top+row)*tw+left)*3:]
		copy(dst, src)
	}
	return out
}

func resizeBilinear(rgb []byte, w, h, tw, th int) []byte {
	out := make([]byte, tw*th*3)

	xr := float64(w) / float64(tw)
	yr := float64(h) / float64(th)

	for ty := 0; ty < th; ty++ {
		sy := (float64(ty) + 0.5) * yr
		y0 := int(sy - 0.5)
		fy := sy - 0.5 - float64(y0)
		y1 := y0 + 1
		if y0 < 0 {
			y0, y1, fy = 0, 0, 0
		}
		if y1 >= h {
			y1 = h - 1
		}

		for tx := 0; tx < tw; tx++ {
			sx := (float64(tx) + 0.5) * xr
			x0 := int(sx - 0.5)
			fx := sx - 0.5 - float64(x0)
			x1 := x0 + 1
			if x0 < 0 {
				x0, x1, fx = 0, 0, 0
			}
			if x1 >= w {
				x1 = w - 1
			}

			for ch := 0; ch < 3; ch++ {
				p00 := float64(rgb[(y0*w+x0)*3+ch])
				p01 := float64(rgb[(y0*w+x1)*3+ch])
				p10 := float64(rgb[(y1*w+x0)*3+ch])
				p11 := float64(rgb[(y1*w+x1)*3+ch])

				top := p00 + (p01-p00)*fx
				bot := p10 + (p11-p10)*fx
				out[(ty*tw+tx)*3+ch] = clamp(int(top + (bot-top)*fy + 0.5))
			}
		}
	}
	return out
}

// NumKeypoints is the MoveNet single-pose output: 17 keypoints of
// (y, x, score), coordinates normalized to [0, 1].
const NumKeypoints = 17

// DrawKeypoints marks every keypoint scoring at or above threshold with a small
// red square. Short or oversized vectors are drawn as far as they go.
func DrawKeypoints(rgb []byte, width, height int, kps []float32, threshold float32) {
	n := len(kps) / 3
	if n > NumKeypoints {
		n = NumKeypoints
	}

	for i := 0; i < n; i++ {
		y := kps[3*i]
		x := kps[3*i+1]
		score := kps[3*i+2]
		if score < threshold {
			continue
		}

		cx := int(x * float32(width))
		cy := int(y * float32(height))
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				px, py := cx+dx, cy+dy
				if px < 0 || px >= width || py < 0 || py >= height {
					continue
				}
				off := (py*width + px) * 3
				rgb[off] = 255
				rgb[off+1] = 0
				rgb[off+2] = 0
			}
		}
	}
}
