package cells

import (
	"image"

	"github.com/disintegration/imaging"
)

// mask is a binary image; true marks foreground (ink).
type mask struct {
	w, h int
	min  image.Point
	px   []bool
}

func binarize(img image.Image, threshold uint8) *mask {
	gray := imaging.Grayscale(img)
	b := img.Bounds()
	m := &mask{w: b.Dx(), h: b.Dy(), min: b.Min, px: make([]bool, b.Dx()*b.Dy())}
	for y := 0; y < m.h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < m.w; x++ {
			m.px[y*m.w+x] = row[x*4] <= threshold
		}
	}
	return m
}

func (m *mask) at(x, y int) bool { return m.px[y*m.w+x] }

// dilate grows foreground by one pixel in a 3x3 neighbourhood.
func (m *mask) dilate() *mask { return m.morph(true) }

// erode shrinks foreground by one pixel; pixels outside the image count as foreground.
func (m *mask) erode() *mask { return m.morph(false) }

// morph applies a separable 3x3 max (dilate) or min (erode).
func (m *mask) morph(grow bool) *mask {
	pass := func(src []bool, dx, dy int) []bool {
		dst := make([]bool, len(src))
		for y := 0; y < m.h; y++ {
			for x := 0; x < m.w; x++ {
				v := src[y*m.w+x]
				for _, s := range [2]int{-1, 1} {
					nx, ny := x+s*dx, y+s*dy
					var n bool
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						n = !grow
					} else {
						n = src[ny*m.w+nx]
					}
					if grow {
						v = v || n
					} else {
						v = v && n
					}
				}
				dst[y*m.w+x] = v
			}
		}
		return dst
	}
	px := pass(pass(m.px, 1, 0), 0, 1)
	return &mask{w: m.w, h: m.h, min: m.min, px: px}
}

// enclosedBackground returns the bounding boxes of background regions (4-connected)
// that do not touch the image border: the interiors of ruled cells.
func (m *mask) enclosedBackground() []image.Rectangle {
	return m.components(false, false, true)
}

// foregroundComponents returns the bounding boxes of 8-connected ink regions.
func (m *mask) foregroundComponents() []image.Rectangle {
	return m.components(true, true, false)
}

func (m *mask) components(fg, eight, skipBorder bool) []image.Rectangle {
	seen := make([]bool, len(m.px))
	var out []image.Rectangle
	queue := make([]int, 0, 1024)

	for start := range m.px {
		if seen[start] || m.px[start] != fg {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		minX, minY, maxX, maxY := m.w, m.h, -1, -1
		border := false

		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%m.w, i/m.w
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			if x == 0 || y == 0 || x == m.w-1 || y == m.h-1 {
				border = true
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 || !eight && dx != 0 && dy != 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						continue
					}
					j := ny*m.w + nx
					if !seen[j] && m.px[j] == fg {
						seen[j] = true
						queue = append(queue, j)
					}
				}
			}
		}
		if skipBorder && border {
			continue
		}
		out = append(out, image.Rect(minX, minY, maxX+1, maxY+1).Add(m.min))
	}
	return out
}
