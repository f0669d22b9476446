// Package overlay plays video and image overlays on top of the display
// through external players. Launches are fire-and-forget.
package overlay

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// Launcher is the overlay capability used by the monitor.
type Launcher interface {
	ShowVideo(path string) error
	ShowImage(path string) error
	HideImage() error
}

// Config names the players and the overlay files.
type Config struct {
	VideoPlayer     string `mapstructure:"video_player" yaml:"video_player"`
	ImageViewer     string `mapstructure:"image_viewer" yaml:"image_viewer"`
	StartupVideo    string `mapstructure:"startup_video" yaml:"startup_video"`
	LowBatteryImage string `mapstructure:"low_battery_image" yaml:"low_battery_image"`
}

// DefaultConfig returns the player paths of the reference image with no overlays enabled.
func DefaultConfig() Config {
	return Config{
		VideoPlayer: "/usr/bin/omxplayer",
		ImageViewer: "pngview",
	}
}

// Players launches omxplayer and pngview.
type Players struct {
	cfg Config

	// start is replaced in tests.
	start func(cmd *exec.Cmd) error

	mu    sync.Mutex
	image *exec.Cmd
}

// NewPlayers creates a launcher for the configured players.
func NewPlayers(cfg Config) *Players {
	return &Players{cfg: cfg, start: startDetached}
}

// ShowVideo plays a translucent video on the top layer.
func (p *Players) ShowVideo(path string) error {
	cmd := exec.Command(p.cfg.VideoPlayer, "--no-osd", "--layer", "999999", path, "--alpha", "160")
	if err := p.start(cmd); err != nil {
		return fmt.Errorf("start video overlay: %w", err)
	}
	return nil
}

// ShowImage replaces any visible image overlay with path.
func (p *Players) ShowImage(path string) error {
	if err := p.HideImage(); err != nil {
		return err
	}
	cmd := exec.Command(p.cfg.ImageViewer, "-b", "0", "-l", "999999", path)
	if err := p.start(cmd); err != nil {
		return fmt.Errorf("start image overlay: %w", err)
	}
	p.mu.Lock()
	p.image = cmd
	p.mu.Unlock()
	return nil
}

// HideImage kills the image viewer started by ShowImage, if any.
func (p *Players) HideImage() error {
	p.mu.Lock()
	cmd := p.image
	p.image = nil
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop image overlay: %w", err)
	}
	return nil
}

// startDetached starts cmd and reaps it in the background.
func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// FakeLauncher records overlay requests.
type FakeLauncher struct {
	Videos  []string
	Images  []string
	Hides   int
	Visible string
	Err     error
}

func (f *FakeLauncher) ShowVideo(path string) error {
	if f.Err != nil {
		return f.Err
	}
	f.Videos = append(f.Videos, path)
	return nil
}

func (f *FakeLauncher) ShowImage(path string) error {
	if f.Err != nil {
		return f.Err
	}
	f.Images = append(f.Images, path)
	f.Visible = path
	return nil
}

func (f *FakeLauncher) HideImage() error {
	f.Hides++
	f.Visible = ""
	return f.Err
}
