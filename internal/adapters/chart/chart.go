package chart

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"tg-feedback-bot/internal/domain"
)

// ErrNotEnoughData для графика нужно минимум два дня истории.
var ErrNotEnoughData = errors.New("недостаточно данных для графика")

var receivedColor = drawing.ColorFromHex("ff7f0e")

// Renderer рисует PNG-графики обменов.
type Renderer struct {
	Width  int
	Height int
}

// NewRenderer создаёт рендерер с размерами по умолчанию.
func NewRenderer() *Renderer {
	return &Renderer{Width: 1000, Height: 600}
}

type series struct {
	dates    []time.Time
	sent     []float64
	received []float64
	top      float64
}

func collect(points iter.Seq[domain.TrendPoint]) series {
	var s series
	for p := range points {
		s.dates = append(s.dates, p.Date)
		s.sent = append(s.sent, float64(p.Sent))
		s.received = append(s.received, float64(p.Received))
		s.top = max(s.top, float64(p.Sent), float64(p.Received))
	}
	return s
}

// MemberTrend рисует отправленные и полученные карты участника по дням.
func (r *Renderer) MemberTrend(points iter.Seq[domain.TrendPoint]) ([]byte, error) {
	s := collect(points)
	if len(s.dates) < 2 {
		return nil, ErrNotEnoughData
	}
	return r.render("Andamento dei feedback negli ultimi giorni", s.top, []gochart.Series{
		gochart.TimeSeries{
			Name:    "Feedback fatti",
			XValues: s.dates,
			YValues: s.sent,
			Style:   gochart.Style{StrokeColor: gochart.ColorBlue, StrokeWidth: 3.0, DotColor: gochart.ColorBlue, DotWidth: 4.0},
		},
		gochart.TimeSeries{
			Name:    "Feedback ricevuti",
			XValues: s.dates,
			YValues: s.received,
			Style:   gochart.Style{StrokeColor: receivedColor, StrokeWidth: 3.0, DotColor: receivedColor, DotWidth: 4.0},
		},
	})
}

// GroupTotals рисует количество обменов в группе по дням.
func (r *Renderer) GroupTotals(points iter.Seq[domain.TrendPoint]) ([]byte, error) {
	s := collect(points)
	if len(s.dates) < 2 {
		return nil, ErrNotEnoughData
	}
	top := 0.0
	for _, v := range s.sent {
		top = max(top, v)
	}
	return r.render("Andamento giornaliero dei feedback totali nel gruppo", top, []gochart.Series{
		gochart.TimeSeries{
			Name:    "Feedback totali nel gruppo",
			XValues: s.dates,
			YValues: s.sent,
			Style:   gochart.Style{StrokeColor: gochart.ColorBlue, StrokeWidth: 3.0, DotColor: gochart.ColorWhite, DotWidth: 4.0},
		},
	})
}

func (r *Renderer) render(title string, top float64, series []gochart.Series) ([]byte, error) {
	graph := gochart.Chart{
		Title:      title,
		Background: gochart.Style{Padding: gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		Series:     series,
		XAxis:      gochart.XAxis{Name: "Date", ValueFormatter: gochart.TimeValueFormatterWithFormat("02/01")},
		YAxis: gochart.YAxis{
			Name:           "Numero di feedback",
			Range:          &gochart.ContinuousRange{Min: 0, Max: max(top, 1) * 1.1},
			ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.0f", v.(float64)) },
		},
		Width:  r.Width,
		Height: r.Height,
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}

	buffer := bytes.NewBuffer(nil)
	if err := graph.Render(gochart.PNG, buffer); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buffer.Bytes(), nil
}
