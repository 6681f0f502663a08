package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/BioHazard786/duocall/internal/call"
)

const (
	streamID         = "duocall"
	oggPageDuration  = 20 * time.Millisecond
	opusSampleRate   = 48000
	defaultFrameRate = 30
)

var errNoSamples = errors.New("file has no samples")

// DiskSource plays an IVF (VP8) file and an Ogg (Opus) file into local
// tracks in a loop. Either file may be empty.
type DiskSource struct {
	videoFile string
	audioFile string

	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenDiskSource checks that the configured files are readable media and
// creates their tracks. Failures wrap call.ErrMediaAccessDenied.
func OpenDiskSource(videoFile, audioFile string) (*DiskSource, error) {
	s := &DiskSource{videoFile: videoFile, audioFile: audioFile}

	if videoFile != "" {
		if err := probe(videoFile, func(r io.Reader) error {
			_, _, err := ivfreader.NewWith(r)
			return err
		}); err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		s.video = track
	}

	if audioFile != "" {
		if err := probe(audioFile, func(r io.Reader) error {
			_, _, err := oggreader.NewWith(r)
			return err
		}); err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		s.audio = track
	}

	return s, nil
}

func probe(path string, parse func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", call.ErrMediaAccessDenied, err)
	}
	defer f.Close()
	if err := parse(f); err != nil {
		return fmt.Errorf("%w: %s: %w", call.ErrMediaAccessDenied, path, err)
	}
	return nil
}

// Video returns the video track, or nil when no video file is set.
func (s *DiskSource) Video() *webrtc.TrackLocalStaticSample { return s.video }

// Audio returns the audio track, or nil when no audio file is set.
func (s *DiskSource) Audio() *webrtc.TrackLocalStaticSample { return s.audio }

// Start begins writing samples. It is a no-op when already started.
func (s *DiskSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.video != nil {
		s.wg.Add(1)
		go s.loop(ctx, "video", s.playIVF)
	}
	if s.audio != nil {
		s.wg.Add(1)
		go s.loop(ctx, "audio", s.playOgg)
	}
}

// Stop halts playback and waits for the writers to exit.
func (s *DiskSource) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *DiskSource) loop(ctx context.Context, kind string, play func(context.Context) error) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		if err := play(ctx); err != nil {
			slog.Warn("local media stopped", "kind", kind, "err", err)
			return
		}
	}
}

func (s *DiskSource) playIVF(ctx context.Context) error {
	f, err := os.Open(s.videoFile)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	frameDuration := time.Second / defaultFrameRate
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for written := 0; ; written++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				if written == 0 {
					return errNoSamples
				}
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.video.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
				return err
			}
		}
	}
}

func (s *DiskSource) playOgg(ctx context.Context) error {
	f, err := os.Open(s.audioFile)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for written := 0; ; written++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			page, header, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if written == 0 {
					return errNoSamples
				}
				return nil
			}
			if err != nil {
				return err
			}
			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
			if err := s.audio.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				return err
			}
		}
	}
}
