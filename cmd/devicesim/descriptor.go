package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alxayo/devlink/internal/chunked"
)

// demoDescriptor is an in-memory orchestrator.Descriptor: it just logs
// every callback instead of touching real hardware, matching the style of
// a minimal reference app target.
type demoDescriptor struct {
	mu          sync.Mutex
	log         *slog.Logger
	signalOn    bool
	otaSucceded bool
	invalidated int
	clockOffset time.Duration
}

func newDemoDescriptor(log *slog.Logger) *demoDescriptor {
	return &demoDescriptor{log: log}
}

func (d *demoDescriptor) Signal(on bool, param uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signalOn = on
	d.log.Info("signal", "on", on, "param", param)
}

func (d *demoDescriptor) SetTime(unixSeconds uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clockOffset = time.Unix(int64(unixSeconds), 0).Sub(time.Now())
	d.log.Info("time synced", "unix_seconds", unixSeconds)
}

func (d *demoDescriptor) OTASucceeded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.otaSucceded
}

func (d *demoDescriptor) AckOTA() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.otaSucceded = false
}

func (d *demoDescriptor) InvalidateAppState() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated++
	d.log.Warn("application state invalidated, forcing fresh describe")
}

func (d *demoDescriptor) SystemInfo() []byte {
	return []byte(fmt.Sprintf(`{"platform":6,"uptime_s":%d}`, int(time.Since(processStart).Seconds())))
}

var processStart = time.Now()

// fileCallbacks implements chunked.Callbacks by writing the assembled
// firmware image under a directory, matching the teacher's
// degrade-on-error file persistence style (media.Recorder).
type fileCallbacks struct {
	dir string
	mu  sync.Mutex
	f   *os.File
	log *slog.Logger
}

func newFileCallbacks(dir string, log *slog.Logger) *fileCallbacks {
	return &fileCallbacks{dir: dir, log: log}
}

func (c *fileCallbacks) PrepareForFirmwareUpdate(desc *chunked.Descriptor, dryRun bool) error {
	if dryRun {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(c.dir, "incoming.bin"))
	if err != nil {
		return err
	}
	c.f = f
	return nil
}

func (c *fileCallbacks) SaveFirmwareChunk(desc *chunked.Descriptor, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return fmt.Errorf("devicesim: chunk received before update begin")
	}
	if _, err := c.f.WriteAt(chunk, int64(desc.ChunkAddress-desc.FileAddress)); err != nil {
		return err
	}
	return nil
}

func (c *fileCallbacks) FinishFirmwareUpdate(desc *chunked.Descriptor, success bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f != nil {
		_ = c.f.Close()
		c.f = nil
	}
	if success {
		c.log.Info("firmware update complete", "bytes", desc.FileLength)
		return "ok", nil
	}
	c.log.Warn("firmware update incomplete, chunks still missing")
	return "incomplete", nil
}
