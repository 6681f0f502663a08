package media

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/BioHazard786/duocall/internal/call"
)

func TestRelayLikely(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []ifaceInfo
		want   bool
	}{
		{"plain lan", []ifaceInfo{{name: "eth0", up: true, ips: []net.IP{net.ParseIP("192.168.1.20")}}}, false},
		{"wireguard", []ifaceInfo{{name: "wg0", up: true}}, true},
		{"down tunnel", []ifaceInfo{{name: "tun0", up: false}}, false},
		{"cgnat address", []ifaceInfo{{name: "eth0", up: true, ips: []net.IP{net.ParseIP("100.72.3.4")}}}, true},
		{"just outside cgnat", []ifaceInfo{{name: "eth0", up: true, ips: []net.IP{net.ParseIP("100.128.0.1")}}}, false},
		{"loopback ignored", []ifaceInfo{{name: "lo-tun", up: true, loopback: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relayLikely(tt.ifaces); got != tt.want {
				t.Errorf("relayLikely = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordingExt(t *testing.T) {
	tests := map[string]string{
		pion.MimeTypeVP8:  ".ivf",
		"VIDEO/vp8":       ".ivf",
		pion.MimeTypeOpus: ".ogg",
		pion.MimeTypeH264: "",
	}
	for mime, want := range tests {
		if got := recordingExt(mime); got != want {
			t.Errorf("recordingExt(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestRecorderWithoutDirDrops(t *testing.T) {
	w, path, err := NewRecorder("").writerFor(pion.MimeTypeVP8)
	if w != nil || path != "" || err != nil {
		t.Fatalf("writerFor without dir = %v, %q, %v", w, path, err)
	}
}

func TestRecorderCreatesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	r := NewRecorder(dir)

	for _, mime := range []string{pion.MimeTypeVP8, pion.MimeTypeOpus} {
		w, path, err := r.writerFor(mime)
		if err != nil || w == nil {
			t.Fatalf("writerFor(%s) = %v, %v", mime, w, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if !strings.HasPrefix(path, dir) {
			t.Errorf("path %q outside %q", path, dir)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("recording not created: %v", err)
		}
	}
}

func TestOpenDiskSource(t *testing.T) {
	dir := t.TempDir()

	ivfPath := filepath.Join(dir, "clip.ivf")
	iw, err := ivfwriter.New(ivfPath)
	if err != nil {
		t.Fatalf("ivfwriter: %v", err)
	}
	iw.Close()

	oggPath := filepath.Join(dir, "clip.ogg")
	ow, err := oggwriter.New(oggPath, opusSampleRate, 2)
	if err != nil {
		t.Fatalf("oggwriter: %v", err)
	}
	ow.Close()

	garbage := filepath.Join(dir, "garbage.ivf")
	if err := os.WriteFile(garbage, []byte("not a video"), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := OpenDiskSource(ivfPath, oggPath)
	if err != nil {
		t.Fatalf("OpenDiskSource: %v", err)
	}
	if src.Video() == nil || src.Audio() == nil {
		t.Fatal("tracks not created")
	}
	src.Start()
	src.Stop()

	none, err := OpenDiskSource("", "")
	if err != nil || none.Video() != nil || none.Audio() != nil {
		t.Fatalf("empty source = %+v, %v", none, err)
	}

	for _, tc := range []struct{ video, audio string }{
		{filepath.Join(dir, "missing.ivf"), ""},
		{garbage, ""},
		{"", ivfPath},
	} {
		if _, err := OpenDiskSource(tc.video, tc.audio); !errors.Is(err, call.ErrMediaAccessDenied) {
			t.Errorf("OpenDiskSource(%q, %q) err = %v, want ErrMediaAccessDenied", tc.video, tc.audio, err)
		}
	}
}

func TestDecodeDescription(t *testing.T) {
	if _, err := decodeDescription(json.RawMessage(`{"type":"offer","sdp":"v=0"}`)); err != nil {
		t.Errorf("valid offer: %v", err)
	}
	for _, raw := range []string{`{"type":"rollback","sdp":""}`, `[]`, `{`} {
		if _, err := decodeDescription(json.RawMessage(raw)); !errors.Is(err, errBadDescription) {
			t.Errorf("decodeDescription(%s) err = %v", raw, err)
		}
	}
}

func TestTransportState(t *testing.T) {
	tests := map[pion.PeerConnectionState]call.TransportState{
		pion.PeerConnectionStateNew:          call.TransportNew,
		pion.PeerConnectionStateConnecting:   call.TransportConnecting,
		pion.PeerConnectionStateConnected:    call.TransportConnected,
		pion.PeerConnectionStateDisconnected: call.TransportDisconnected,
		pion.PeerConnectionStateFailed:       call.TransportFailed,
		pion.PeerConnectionStateClosed:       call.TransportClosed,
	}
	for in, want := range tests {
		if got := transportState(in); got != want {
			t.Errorf("transportState(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestReceiveOnlyOffer(t *testing.T) {
	tr, err := NewTransport(Options{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	if err := tr.AcquireLocalMedia(context.Background()); err != nil {
		t.Fatalf("AcquireLocalMedia: %v", err)
	}
	offer, err := tr.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	var sd pion.SessionDescription
	if err := json.Unmarshal(offer, &sd); err != nil {
		t.Fatalf("offer is not a session description: %v", err)
	}
	if sd.Type != pion.SDPTypeOffer {
		t.Errorf("type = %v", sd.Type)
	}
	for _, want := range []string{"m=video", "m=audio", "a=recvonly"} {
		if !strings.Contains(sd.SDP, want) {
			t.Errorf("offer SDP missing %q", want)
		}
	}

	if err := tr.ReleaseLocalMedia(); err != nil {
		t.Errorf("ReleaseLocalMedia: %v", err)
	}
}
