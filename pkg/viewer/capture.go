package viewer

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

func framePath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("visor-%s.png", t.Format("20060102-150405")))
}

// captureFrame copies the screen and writes it as PNG in the background.
func captureFrame(img *ebiten.Image, dir string, t time.Time) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[CAPTURE] Error creating capture directory: %v", err)
		return
	}
	rgba := image.NewRGBA(img.Bounds())
	img.ReadPixels(rgba.Pix)

	path := framePath(dir, t)
	go func() {
		if err := writePNG(path, rgba); err != nil {
			log.Printf("[CAPTURE] %v", err)
			return
		}
		log.Printf("[CAPTURE] Captured frame: %s", path)
	}()
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
