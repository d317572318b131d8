package voxmap

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// FrameHandler consumes decoded frames.
type FrameHandler func(*Frame)

// FrameSource produces frames until ctx is done or the source is exhausted.
// Each sensor modality is one FrameSource implementation.
type FrameSource func(ctx context.Context, emit FrameHandler) error

// RunSources runs every source concurrently, feeding handle, and returns
// the first source error. Sources stop when ctx is cancelled.
func RunSources(ctx context.Context, handle FrameHandler, sources ...FrameSource) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			return src(ctx, handle)
		})
	}
	return g.Wait()
}

// replayExtensions are the batch files picked up by ReplaySource.
var replayExtensions = []string{".json", ".pcb", ".z"}

// ListBatchFiles returns the point batch files in dir in name order.
func ListBatchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading replay directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range replayExtensions {
			if ext == want {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReplayOptions configures ReplaySource.
type ReplayOptions struct {
	SensorID string        // used when a batch does not name its sensor
	Interval time.Duration // pause between frames
}

// ReplaySource emits the batch files of dir in name order. Files that fail
// to decode are logged and skipped.
func ReplaySource(dir string, opts ReplayOptions) FrameSource {
	if opts.SensorID == "" {
		opts.SensorID = "replay"
	}
	return func(ctx context.Context, emit FrameHandler) error {
		files, err := ListBatchFiles(dir)
		if err != nil {
			return err
		}
		log.Printf("Replaying %d batch files from %s", len(files), dir)

		for i, path := range files {
			if i > 0 && opts.Interval > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(opts.Interval):
				}
			}
			if ctx.Err() != nil {
				return nil
			}

			f, err := DecodeFrameFile(path)
			if err != nil {
				log.Printf("Warning: skipping %s: %v", filepath.Base(path), err)
				continue
			}
			if f.SensorID == "" {
				f.SensorID = opts.SensorID
			}
			emit(f)
		}
		return nil
	}
}

// SliceSource emits the given frames in order. Useful for tests and tools.
func SliceSource(frames ...*Frame) FrameSource {
	return func(ctx context.Context, emit FrameHandler) error {
		for _, f := range frames {
			if ctx.Err() != nil {
				return nil
			}
			emit(f)
		}
		return nil
	}
}
