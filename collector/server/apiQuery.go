package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/crowdsense/collector/crowddb"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const defaultQueryWindowHours = 24

type noDataJSON struct {
	NoData bool `json:"noData"`
}

func queryParams(r *http.Request) (deviceID string, window time.Duration) {
	deviceID = www.QueryValue(r, "device_id")
	if deviceID == "" {
		deviceID = telemetry.DefaultDeviceID
	}
	hours := www.QueryInt(r, "hours")
	if hours <= 0 {
		hours = defaultQueryWindowHours
	}
	return deviceID, time.Duration(hours) * time.Hour
}

// httpData returns the time series and summary statistics of a device over
// the requested window. An empty window is a "no data" response, not an error.
func (s *Server) httpData(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	deviceID, window := queryParams(r)
	result, err := s.DB.Query(deviceID, window)
	if errors.Is(err, crowddb.ErrNoData) {
		www.SendJSON(w, &noDataJSON{NoData: true})
		return
	}
	www.Check(err)
	type dataJSON struct {
		Series []crowddb.SeriesPoint `json:"data"`
		Stats  crowddb.WindowStats   `json:"stats"`
	}
	www.SendJSON(w, &dataJSON{
		Series: result.Series,
		Stats:  result.Stats,
	})
}
