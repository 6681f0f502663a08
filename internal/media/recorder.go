package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder saves remote tracks under a directory: VP8 as IVF, Opus as Ogg.
// Without a directory, or for other codecs, packets are read and dropped so
// the receiver keeps flowing.
type Recorder struct {
	dir string
	now func() time.Time
	wg  sync.WaitGroup
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir, now: time.Now}
}

// Handle consumes track until it ends.
func (r *Recorder) Handle(track *webrtc.TrackRemote) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.record(track)
	}()
}

// Wait blocks until every handled track has ended.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) record(track *webrtc.TrackRemote) {
	mime := track.Codec().MimeType
	w, path, err := r.writerFor(mime)
	if err != nil {
		slog.Warn("recording disabled for track", "mime", mime, "err", err)
	}
	if w != nil {
		slog.Info("recording remote track", "mime", mime, "path", path)
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("failed to finalise recording", "path", path, "err", err)
			}
		}()
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if w == nil {
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			slog.Warn("recording write failed", "path", path, "err", err)
			w.Close()
			w = nil
		}
	}
}

func (r *Recorder) writerFor(mime string) (rtpWriter, string, error) {
	if r.dir == "" {
		return nil, "", nil
	}
	ext := recordingExt(mime)
	if ext == "" {
		return nil, "", nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, "", err
	}

	kind := strings.ToLower(strings.SplitN(mime, "/", 2)[0])
	path := filepath.Join(r.dir, fmt.Sprintf("remote-%s-%s%s", kind, r.now().Format("20060102-150405"), ext))

	var (
		w   rtpWriter
		err error
	)
	switch ext {
	case ".ivf":
		w, err = ivfwriter.New(path)
	case ".ogg":
		w, err = oggwriter.New(path, opusSampleRate, 2)
	}
	if err != nil {
		return nil, "", err
	}
	return w, path, nil
}

func recordingExt(mime string) string {
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return ".ivf"
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		return ".ogg"
	default:
		return ""
	}
}
