package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/crowdsense/edge/monitor"
	"github.com/cyclopcam/crowdsense/pkg/detect"
)

// A replay stands in for the camera and the neural network: it plays back
// recorded detector output at a fixed frame rate, which exercises the whole
// pipeline (cadence, filtering, statistics, dispatch) without capture or
// inference hardware.
//
// The file is JSON lines, one frame per line:
//
//	{"width":640,"height":480,"boxes":[[ymin,xmin,ymax,xmax],...],"classes":[0,...],"scores":[0.9,...]}
type replay struct {
	interval time.Duration

	lock    sync.Mutex
	frames  []replayFrame
	nextSeq int64
	current detect.RawOutput
	eof     chan bool
	eofOnce sync.Once
}

type replayFrame struct {
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Boxes   [][4]float32 `json:"boxes"`
	Classes []int        `json:"classes"`
	Scores  []float32    `json:"scores"`
}

// openReplay returns the same object as both frame source and detector:
// Detect returns the raw output belonging to the most recently read frame.
func openReplay(path string, fps int) (*replay, detect.ObjectDetector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if fps <= 0 {
		fps = 10
	}
	r := &replay{
		interval: time.Second / time.Duration(fps),
		eof:      make(chan bool),
	}
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		frame := replayFrame{}
		if err := json.Unmarshal([]byte(text), &frame); err != nil {
			return nil, nil, fmt.Errorf("Invalid replay line %v: %w", lineNum, err)
		}
		r.frames = append(r.frames, frame)
	}
	if len(r.frames) == 0 {
		return nil, nil, fmt.Errorf("Replay file %v has no frames", path)
	}
	return r, r, nil
}

func (r *replay) NextFrame() (*monitor.Frame, error) {
	r.lock.Lock()
	seq := r.nextSeq
	r.lock.Unlock()
	if seq >= int64(len(r.frames)) {
		r.eofOnce.Do(func() { close(r.eof) })
		return nil, io.EOF
	}
	if seq != 0 {
		time.Sleep(r.interval)
	}
	src := r.frames[seq]
	r.lock.Lock()
	r.nextSeq++
	r.current = detect.RawOutput{
		Boxes:   src.Boxes,
		Classes: src.Classes,
		Scores:  src.Scores,
	}
	r.lock.Unlock()
	return &monitor.Frame{
		Image: detect.Image{
			Width:  src.Width,
			Height: src.Height,
		},
		Seq: seq,
		PTS: time.Now(),
	}, nil
}

func (r *replay) Detect(img detect.Image) (detect.RawOutput, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.current, nil
}

func (r *replay) Close() {
}

// WaitEOF blocks until the replay has been fully consumed.
func (r *replay) WaitEOF() {
	<-r.eof
}
