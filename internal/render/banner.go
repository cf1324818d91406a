package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Banner geometry and palette.
const (
	BannerWidth  = 1024
	BannerHeight = 512

	bannerMargin   = 40
	titleBaseline  = 80
	bodyBaseline   = 130
	bodyLineHeight = 30
	bottomMargin   = 60
)

var (
	bannerBackground = color.RGBA{0x0b, 0x12, 0x20, 0xff}
	bannerTitle      = color.RGBA{0xe5, 0xe7, 0xeb, 0xff}
	bannerBody       = color.RGBA{0xcb, 0xd5, 0xe1, 0xff}
)

// Banner renders a 1024x512 PNG with the title on top and content
// word-wrapped below it. Lines that would pass the bottom margin are
// dropped.
func (r *Renderer) Banner(title, content string) ([]byte, error) {
	titleFace, err := r.face(40)
	if err != nil {
		return nil, err
	}
	defer titleFace.Close()
	bodyFace, err := r.face(22)
	if err != nil {
		return nil, err
	}
	defer bodyFace.Close()

	img := image.NewRGBA(image.Rect(0, 0, BannerWidth, BannerHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(bannerBackground), image.Point{}, draw.Src)

	drawText(img, titleFace, bannerTitle, title, bannerMargin, titleBaseline)

	measure := func(s string) int { return font.MeasureString(bodyFace, s).Ceil() }
	y := bodyBaseline
	for _, line := range WrapWords(content, BannerWidth-2*bannerMargin, measure) {
		if y > BannerHeight-bottomMargin {
			break
		}
		drawText(img, bodyFace, bannerBody, line, bannerMargin, y)
		y += bodyLineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WrapWords greedily packs whitespace-separated words into lines no
// wider than maxWidth. A single word wider than maxWidth gets its own line.
func WrapWords(text string, maxWidth int, measure func(string) int) []string {
	var lines []string
	line := ""
	for _, w := range strings.Fields(text) {
		candidate := w
		if line != "" {
			candidate = line + " " + w
		}
		if line != "" && measure(candidate) > maxWidth {
			lines = append(lines, line)
			line = w
			continue
		}
		line = candidate
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// face loads the configured font at size, falling back to Go Regular
// when no font is configured or it fails to parse.
func (r *Renderer) face(size float64) (font.Face, error) {
	f, err := opentype.Parse(goregular.TTF)
	if data := r.fontBytes(); data != nil {
		if custom, cerr := opentype.Parse(data); cerr == nil {
			f, err = custom, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

func drawText(dst draw.Image, face font.Face, c color.Color, s string, x, y int) {
	d := font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(s)
}
