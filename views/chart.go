package views

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"slices"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/adamlounds/nightscout-tdd/models"
)

const (
	DefaultChartWidth  = 900
	DefaultChartHeight = 360

	marginLeft   = 56
	marginRight  = 16
	marginTop    = 36
	marginBottom = 40
	yTicks       = 5
	maxDateLabel = 12
)

var (
	basalColor = color.RGBA{R: 0x4a, G: 0x7f, B: 0xb5, A: 0xff}
	bolusColor = color.RGBA{R: 0xe6, G: 0x91, B: 0x38, A: 0xff}
	smbColor   = color.RGBA{R: 0x6a, G: 0xa8, B: 0x4f, A: 0xff}
	gridColor  = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	textColor  = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

// RenderChart draws one stacked bar per day (basal, bolus, SMB from the
// bottom up), oldest day on the left, and writes it as PNG.
func RenderChart(w io.Writer, rows []models.DailyDoseRow, width, height int) error {
	if width <= marginLeft+marginRight || height <= marginTop+marginBottom {
		return fmt.Errorf("RenderChart cannot draw %dx%d: too small", width, height)
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	if err := loadFont(dc, 11); err != nil {
		return fmt.Errorf("RenderChart cannot load font: %w", err)
	}

	plotW := float64(width - marginLeft - marginRight)
	plotH := float64(height - marginTop - marginBottom)
	bottom := float64(marginTop) + plotH

	if len(rows) == 0 {
		dc.SetColor(textColor)
		dc.DrawStringAnchored("no data", float64(width)/2, float64(height)/2, 0.5, 0.5)
		return encodePNG(dc, w)
	}

	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, func(a, b models.DailyDoseRow) int { return a.Date.Compare(b.Date) })

	yMax := chartCeiling(sorted)
	scale := plotH / yMax

	// horizontal grid with unit labels
	dc.SetLineWidth(1)
	for i := 0; i <= yTicks; i++ {
		v := yMax * float64(i) / yTicks
		y := bottom - v*scale
		dc.SetColor(gridColor)
		dc.DrawLine(marginLeft, y, float64(width-marginRight), y)
		dc.Stroke()
		dc.SetColor(textColor)
		dc.DrawStringAnchored(fmt.Sprintf("%.0f U", v), marginLeft-6, y, 1, 0.5)
	}

	slot := plotW / float64(len(sorted))
	barW := math.Max(slot*0.7, 1)
	labelEvery := int(math.Ceil(float64(len(sorted)) / maxDateLabel))
	for i, r := range sorted {
		x := float64(marginLeft) + slot*float64(i) + (slot-barW)/2
		y := bottom
		for _, seg := range []struct {
			units float64
			c     color.Color
		}{
			{r.BasalUnits, basalColor},
			{r.BolusUnits, bolusColor},
			{r.SMBUnits, smbColor},
		} {
			if seg.units <= 0 {
				continue
			}
			h := seg.units * scale
			dc.SetColor(seg.c)
			dc.DrawRectangle(x, y-h, barW, h)
			dc.Fill()
			y -= h
		}
		if i%labelEvery == 0 {
			dc.SetColor(textColor)
			dc.DrawStringAnchored(r.Date.Format("01-02"), x+barW/2, bottom+14, 0.5, 0.5)
		}
	}

	drawLegend(dc, float64(marginLeft))
	return encodePNG(dc, w)
}

// chartCeiling rounds the largest daily total up to the next multiple of 10.
func chartCeiling(rows []models.DailyDoseRow) float64 {
	var peak float64
	for _, r := range rows {
		peak = max(peak, r.BasalUnits+r.BolusUnits+r.SMBUnits)
	}
	if peak <= 0 {
		return 10
	}
	return math.Ceil(peak/10) * 10
}

func drawLegend(dc *gg.Context, x float64) {
	y := float64(marginTop) / 2
	for _, item := range []struct {
		label string
		c     color.Color
	}{
		{"Basal", basalColor},
		{"Bolus", bolusColor},
		{"SMB", smbColor},
	} {
		dc.SetColor(item.c)
		dc.DrawRectangle(x, y-5, 10, 10)
		dc.Fill()
		dc.SetColor(textColor)
		dc.DrawStringAnchored(item.label, x+14, y, 0, 0.5)
		x += 70
	}
}

func loadFont(dc *gg.Context, size float64) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
	return nil
}

func encodePNG(dc *gg.Context, w io.Writer) error {
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("RenderChart cannot encode png: %w", err)
	}
	return nil
}
