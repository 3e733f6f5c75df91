package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/cyclopcam/crowdsense/collector/crowddb"
	"github.com/cyclopcam/www"
	"github.com/fogleman/gg"
	"github.com/julienschmidt/httprouter"
)

const (
	plotWidth  = 800
	plotHeight = 400
	plotMargin = 40
)

// httpPlot renders the device's time series as a PNG.
// The response mirrors httpData's shape: {"image": <base64 PNG>}, or the
// no-data signal when the window is empty.
func (s *Server) httpPlot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	deviceID, window := queryParams(r)
	result, err := s.DB.Query(deviceID, window)
	if errors.Is(err, crowddb.ErrNoData) {
		www.SendJSON(w, &noDataJSON{NoData: true})
		return
	}
	www.Check(err)

	png, err := renderSeriesPNG(result, fmt.Sprintf("Crowd Count - %v - Last %v", deviceID, window))
	www.Check(err)

	type plotJSON struct {
		Image []byte `json:"image"` // base64 via JSON encoding
	}
	www.SendJSON(w, &plotJSON{Image: png})
}

func renderSeriesPNG(result *crowddb.QueryResult, title string) ([]byte, error) {
	// Query returns newest first; the plot runs oldest to newest.
	series := result.Series
	n := len(series)

	minT := series[n-1].Timestamp
	maxT := series[0].Timestamp
	spanT := float64(maxT - minT)
	if spanT <= 0 {
		spanT = 1
	}
	maxCount := result.Stats.Max
	if maxCount < 1 {
		maxCount = 1
	}

	dc := gg.NewContext(plotWidth, plotHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Axes
	dc.SetRGB(0.5, 0.5, 0.5)
	dc.SetLineWidth(1)
	dc.DrawLine(plotMargin, plotHeight-plotMargin, plotWidth-plotMargin, plotHeight-plotMargin)
	dc.DrawLine(plotMargin, plotMargin, plotMargin, plotHeight-plotMargin)
	dc.Stroke()

	toXY := func(p crowddb.SeriesPoint) (float64, float64) {
		x := plotMargin + (float64(p.Timestamp-minT)/spanT)*(plotWidth-2*plotMargin)
		y := (plotHeight - plotMargin) - (float64(p.Count)/float64(maxCount))*(plotHeight-2*plotMargin)
		return x, y
	}

	dc.SetRGB(0, 0, 0.9)
	dc.SetLineWidth(2)
	for i := n - 1; i >= 0; i-- {
		x, y := toXY(series[i])
		if i == n-1 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, plotWidth/2, plotMargin/2, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%v", maxCount), plotMargin/2, plotMargin, 0.5, 0.5)
	dc.DrawStringAnchored("0", plotMargin/2, plotHeight-plotMargin, 0.5, 0.5)

	buf := bytes.Buffer{}
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
