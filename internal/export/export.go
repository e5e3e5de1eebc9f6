// Package export writes the generated frames and clips of a storyboard to a
// directory or a zip stream.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"adstudio/internal/media"
	"adstudio/internal/storyboard"
)

// File is one exported artifact.
type File struct {
	Name string
	Data []byte
}

// Files collects every inline frame and clip of board, in scene order.
// Plain URL previews and missing frames are skipped.
func Files(board *storyboard.Storyboard) ([]File, error) {
	if board == nil {
		return nil, nil
	}
	var out []File
	for _, s := range board.Scenes {
		if s.Details != nil {
			for _, f := range []struct {
				frame storyboard.Frame
				value string
			}{
				{storyboard.FrameStart, s.Details.StartFrame},
				{storyboard.FrameEnd, s.Details.EndFrame},
			} {
				file, ok, err := decode(fmt.Sprintf("scene_%d_%s", s.ID, f.frame), f.value)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, file)
				}
			}
		}
		file, ok, err := decode(fmt.Sprintf("scene_%d_video", s.ID), s.VideoURL)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, file)
		}
	}
	return out, nil
}

func decode(base, value string) (File, bool, error) {
	if !media.IsDataURL(value) {
		return File{}, false, nil
	}
	data, mimeType, err := media.DecodeDataURL(value)
	if err != nil {
		return File{}, false, fmt.Errorf("%s: %w", base, err)
	}
	return File{Name: base + media.Extension(mimeType), Data: data}, true, nil
}

// WriteDir writes every file into dir, creating it if needed, and returns the
// written paths.
func WriteDir(dir string, board *storyboard.Storyboard) ([]string, error) {
	files, err := Files(board)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteZip streams every file into a zip archive on w.
func WriteZip(w io.Writer, board *storyboard.Storyboard) (int, error) {
	files, err := Files(board)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	for _, f := range files {
		fw, err := zw.Create(f.Name)
		if err != nil {
			return 0, fmt.Errorf("zip %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return 0, fmt.Errorf("zip %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zip: %w", err)
	}
	return len(files), nil
}
