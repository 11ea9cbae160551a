// Command dialogclient is the composition root for the realtime voice-dialog
// client: it wires the frame codec, transport, audio devices, playback
// buffer, and session controller together and drives one end-to-end dialog
// session (spec §2 "Control flow", SPEC_FULL.md C10).
//
// Configuration/secret loading beyond flags and environment variables, and
// the UI/console surface, are out of scope (spec §1) — this is the minimal
// runnable entrypoint every reference client in the pack ships alongside its
// library code.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/Austin-Patrician/realtimedialog-go/internal/audiodev"
	"github.com/Austin-Patrician/realtimedialog-go/internal/codec"
	"github.com/Austin-Patrician/realtimedialog-go/internal/dialogconfig"
	"github.com/Austin-Patrician/realtimedialog-go/internal/dialogstate"
	"github.com/Austin-Patrician/realtimedialog-go/internal/diagnostic"
	"github.com/Austin-Patrician/realtimedialog-go/internal/playback"
	"github.com/Austin-Patrician/realtimedialog-go/internal/session"
	"github.com/Austin-Patrician/realtimedialog-go/internal/transport"
)

func main() {
	serverURL := flag.String("url", envOr("DIALOG_SERVER_URL", "wss://localhost:8443/dialog"), "dialog service WebSocket URL")
	resourceID := flag.String("resource-id", os.Getenv("DIALOG_RESOURCE_ID"), "X-Api-Resource-Id header value")
	accessKey := flag.String("access-key", os.Getenv("DIALOG_ACCESS_KEY"), "X-Api-Access-Key header value")
	appKey := flag.String("app-key", os.Getenv("DIALOG_APP_KEY"), "X-Api-App-Key header value")
	appID := flag.String("app-id", os.Getenv("DIALOG_APP_ID"), "X-Api-App-ID header value")
	profilePath := flag.String("profile", "", "optional JSON dialog-profile file (bot persona, greetings, ChatTTSText script)")
	inputDevice := flag.Int("input-device", -1, "capture device index (-1 for system default)")
	outputDevice := flag.Int("output-device", -1, "playback device index (-1 for system default)")
	diagnosticPath := flag.String("diagnostic", diagnostic.DefaultPath, "path to dump the accumulated downstream PCM on shutdown")
	flag.Parse()

	if err := run(runConfig{
		serverURL:      *serverURL,
		resourceID:     *resourceID,
		accessKey:      *accessKey,
		appKey:         *appKey,
		appID:          *appID,
		profilePath:    *profilePath,
		inputDevice:    *inputDevice,
		outputDevice:   *outputDevice,
		diagnosticPath: *diagnosticPath,
	}); err != nil {
		log.Printf("[main] fatal: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type runConfig struct {
	serverURL      string
	resourceID     string
	accessKey      string
	appKey         string
	appID          string
	profilePath    string
	inputDevice    int
	outputDevice   int
	diagnosticPath string
}

// run performs one connect → handshake → steady-state → shutdown lifecycle,
// reporting a non-zero exit through its returned error on fatal startup
// failure and nil on normal shutdown, including a server-requested end
// (spec §7 "User-visible behavior").
func run(cfg runConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := audiodev.Initialize(); err != nil {
		return fmt.Errorf("initialize audio devices: %w", err)
	}
	defer audiodev.Terminate()

	capture, err := audiodev.OpenCaptureStream(cfg.inputDevice)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}

	play, err := audiodev.OpenPlaybackStream(cfg.outputDevice)
	if err != nil {
		capture.Close()
		return fmt.Errorf("open playback stream: %w", err)
	}
	defer play.Close()

	tr, err := transport.Dial(ctx, transport.DialConfig{
		URL:        cfg.serverURL,
		ResourceID: cfg.resourceID,
		AccessKey:  cfg.accessKey,
		AppKey:     cfg.appKey,
		AppID:      cfg.appID,
		ConnectID:  uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}

	state := dialogstate.New()
	buf := playback.New(audiodev.PlaybackSampleRate)
	profile := dialogconfig.Load(cfg.profilePath)
	c := codec.New()

	worker := playback.NewWorker(buf, play, audiodev.PlaybackFrameSize)
	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(workerCtx) }()

	ctrl := session.New(tr, c, state, capture, buf, profile, cfg.diagnosticPath)
	runErr := ctrl.Run(ctx)

	cancelWorker()
	<-workerDone

	log.Printf("[main] session ended, dialog id=%q", state.DialogID())
	return runErr
}
