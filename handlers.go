package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/frontiermap/voxmap"
	"golang.org/x/sync/singleflight"
)

// frontierResponse is the body of /frontier.json.
type frontierResponse struct {
	Frame      string       `json:"frame"`
	Resolution float64      `json:"resolution"`
	Count      int          `json:"count"`
	Cells      [][3]float64 `json:"cells"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(mapper *voxmap.Mapper, metrics *voxmap.Metrics) http.Handler {
	mux := http.NewServeMux()

	// Concurrent requests for the same rendering share one result.
	var renders singleflight.Group
	serveRender := func(w http.ResponseWriter, key, contentType string, draw func(*bytes.Buffer) error) {
		if mapper.Map().Len() == 0 {
			http.Error(w, "No map data available", http.StatusServiceUnavailable)
			return
		}
		v, err, _ := renders.Do(key, func() (any, error) {
			var buf bytes.Buffer
			if err := draw(&buf); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		})
		if err != nil {
			log.Printf("Error rendering %s: %v", key, err)
			http.Error(w, "Render failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(v.([]byte))
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			MapFrame  string    `json:"mapFrame"`
			Nodes     int       `json:"nodes"`
			Frontier  int       `json:"frontier"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			MapFrame:  mapper.MapFrame(),
			Nodes:     mapper.Map().Len(),
			Frontier:  mapper.Frontier().Len(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		report, ok := mapper.LastReport()
		if !ok {
			http.Error(w, "No frames processed", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("Error encoding stats: %v", err)
		}
	})

	mux.HandleFunc("/frontier.json", func(w http.ResponseWriter, r *http.Request) {
		codec := mapper.Map().Codec()
		centers := mapper.Frontier().Centers(codec)
		resp := frontierResponse{
			Frame:      mapper.MapFrame(),
			Resolution: codec.Resolution(),
			Count:      len(centers),
			Cells:      make([][3]float64, len(centers)),
		}
		for i, c := range centers {
			resp.Cells[i] = [3]float64{c.X, c.Y, c.Z}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("Error encoding frontier: %v", err)
		}
	})

	mux.HandleFunc("/frontier.geojson", func(w http.ResponseWriter, r *http.Request) {
		fc := voxmap.FrontierGeoJSON(mapper.Map().Codec(), mapper.Frontier().Snapshot(), mapper.MapFrame())
		data, err := fc.MarshalJSON()
		if err != nil {
			log.Printf("Error encoding frontier GeoJSON: %v", err)
			http.Error(w, "Encoding failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("/frontier.svg", func(w http.ResponseWriter, r *http.Request) {
		serveRender(w, "svg", "image/svg+xml", func(buf *bytes.Buffer) error {
			return voxmap.NewTopDownRenderer(mapper.Map(), mapper.Frontier()).RenderToSVG(buf)
		})
	})

	mux.HandleFunc("/slice.png", func(w http.ResponseWriter, r *http.Request) {
		z := 0.0
		if s := r.URL.Query().Get("z"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid z %q", s), http.StatusBadRequest)
				return
			}
			z = v
		}
		serveRender(w, "slice:"+strconv.FormatFloat(z, 'g', -1, 64), "image/png", func(buf *bytes.Buffer) error {
			return voxmap.NewSliceRenderer(mapper.Map(), mapper.Frontier(), z).WritePNG(buf)
		})
	})

	mux.HandleFunc("/map.bin", func(w http.ResponseWriter, r *http.Request) {
		serveRender(w, "map", "application/octet-stream", func(buf *bytes.Buffer) error {
			m := mapper.Map()
			return voxmap.WriteMap(buf, m.Codec(), m.Enumerate())
		})
	})

	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		mapper.Reset()
		w.WriteHeader(http.StatusNoContent)
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	// Default route serves HTML page embedding the SVG map
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>frontiermap</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/frontier.svg" alt="Frontier Map">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}
