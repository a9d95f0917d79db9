package grid

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorBox      = color.RGBA{0, 160, 0, 255}
	colorWindow   = color.RGBA{100, 100, 255, 255}
	colorAnchor   = color.RGBA{220, 0, 0, 255}
	colorMeasured = color.RGBA{0, 170, 200, 255}
	colorInferred = color.RGBA{200, 0, 200, 255}
	colorLabel    = color.RGBA{40, 40, 40, 255}
)

// OverlayRenderer draws a result as vector graphics in image pixel units:
// cluster boxes, candidate windows, anchors as crosses, measured spots as
// filled dots and inferred spots as rings.
type OverlayRenderer struct {
	Result     *Result
	Window     WindowConfig
	Padding    float64           // Padding around the content in image pixels
	SpotRadius float64           // Radius of spot markers
	CrossSize  float64           // Half-length of the anchor cross arms
	Resolution canvas.Resolution // Resolution for PNG output
	Labels     bool              // Stamp well labels on PNG output
}

// NewOverlayRenderer creates a renderer with default settings
func NewOverlayRenderer(r *Result, w WindowConfig) *OverlayRenderer {
	return &OverlayRenderer{
		Result:     r,
		Window:     w,
		Padding:    20,
		SpotRadius: 2,
		CrossSize:  7,
		Resolution: canvas.DPMM(4),
		Labels:     true,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as an SVG to the provided writer
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	bounds := r.contentBounds()
	width, height := r.canvasSize(bounds)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, bounds, height)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing SVG: %w", err)
	}
	return nil
}

// RenderToPNG writes the overlay as a PNG to the provided writer
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	bounds := r.contentBounds()
	width, height := r.canvasSize(bounds)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, bounds, height)

	img := image.NewRGBA(rast.Bounds())
	draw.Draw(img, img.Bounds(), rast, rast.Bounds().Min, draw.Src)
	if r.Labels {
		r.drawLabels(img, bounds)
	}
	return png.Encode(w, img)
}

// contentBounds covers every cluster box, window and valid position
func (r *OverlayRenderer) contentBounds() orb.Bound {
	var b orb.Bound
	first := true
	extend := func(o orb.Bound) {
		if first {
			b, first = o, false
			return
		}
		b = b.Union(o)
	}

	for _, c := range r.Result.Clusters {
		extend(c.Bound)
	}
	for _, a := range r.Result.Anchors {
		if p, ok := a.Point.Get(); ok {
			extend(windowBound(p, r.Window))
		}
	}
	for _, p := range validPositions(r.Result) {
		extend(orb.Bound{Min: p, Max: p})
	}

	if first {
		return orb.Bound{Max: orb.Point{1, 1}}
	}
	return b
}

func (r *OverlayRenderer) canvasSize(b orb.Bound) (float64, float64) {
	return b.Right() - b.Left() + 2*r.Padding, b.Top() - b.Bottom() + 2*r.Padding
}

// renderToCanvas draws the overlay. Image y grows downward while canvas y
// grows upward, so y is flipped against the canvas height.
func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, height float64) {
	width, _ := r.canvasSize(b)
	toCanvas := func(p orb.Point) (float64, float64) {
		return p[0] - b.Left() + r.Padding, height - (p[1] - b.Bottom() + r.Padding)
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	rectPath := func(o orb.Bound) *canvas.Path {
		x0, y0 := toCanvas(o.Min)
		x1, y1 := toCanvas(o.Max)
		cp := &canvas.Path{}
		cp.MoveTo(x0, y0)
		cp.LineTo(x1, y0)
		cp.LineTo(x1, y1)
		cp.LineTo(x0, y1)
		cp.Close()
		return cp
	}

	boxStyle := strokeStyle(colorBox, 1)
	for _, c := range r.Result.Clusters {
		renderer.RenderPath(rectPath(c.Bound), boxStyle, canvas.Identity)
	}

	windowStyle := strokeStyle(colorWindow, 0.5)
	anchorStyle := strokeStyle(colorAnchor, 1.5)
	for _, a := range r.Result.Anchors {
		p, ok := a.Point.Get()
		if !ok {
			continue
		}
		renderer.RenderPath(rectPath(windowBound(p, r.Window)), windowStyle, canvas.Identity)

		cx, cy := toCanvas(p)
		cross := &canvas.Path{}
		cross.MoveTo(cx-r.CrossSize, cy)
		cross.LineTo(cx+r.CrossSize, cy)
		cross.MoveTo(cx, cy-r.CrossSize)
		cross.LineTo(cx, cy+r.CrossSize)
		renderer.RenderPath(cross, anchorStyle, canvas.Identity)
	}

	measuredStyle := canvas.DefaultStyle
	measuredStyle.Fill = canvas.Paint{Color: colorMeasured}
	measuredStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	inferredStyle := strokeStyle(colorInferred, 0.5)

	for _, wellRow := range r.Result.Positions {
		for _, well := range wellRow {
			for _, row := range well {
				for _, pos := range row {
					if !pos.Valid {
						continue
					}
					cx, cy := toCanvas(orb.Point{pos.X, pos.Y})
					style := inferredStyle
					if pos.Measured {
						style = measuredStyle
					}
					renderer.RenderPath(canvas.Circle(r.SpotRadius).Translate(cx, cy), style, canvas.Identity)
				}
			}
		}
	}
}

func strokeStyle(c color.RGBA, width float64) canvas.Style {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: c}
	style.StrokeWidth = width
	return style
}

// drawLabels stamps "r,c" above each placed cluster in raster pixel space
func (r *OverlayRenderer) drawLabels(img *image.RGBA, b orb.Bound) {
	dpmm := r.Resolution.DPMM()
	for _, c := range r.Result.Clusters {
		if c.Row < 0 || c.Col < 0 {
			continue
		}
		x := int(math.Round((c.Bound.Left() - b.Left() + r.Padding) * dpmm))
		y := int(math.Round((c.Bound.Bottom() - b.Bottom() + r.Padding) * dpmm))
		drawText(img, x, y-4, fmt.Sprintf("%d,%d", c.Row, c.Col), colorLabel)
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func validPositions(r *Result) []orb.Point {
	var pts []orb.Point
	for _, wellRow := range r.Positions {
		for _, well := range wellRow {
			for _, row := range well {
				for _, pos := range row {
					if pos.Valid {
						pts = append(pts, orb.Point{pos.X, pos.Y})
					}
				}
			}
		}
	}
	return pts
}
