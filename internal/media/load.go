package media

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// DetectMime sniffs the content type of data, ignoring declared when it is
// empty or generic.
func DetectMime(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if strings.Contains(declared, ";") {
		declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	detected := mimetype.Detect(data).String()
	if strings.Contains(detected, ";") {
		detected = strings.TrimSpace(strings.SplitN(detected, ";", 2)[0])
	}
	if detected == "" || detected == "application/octet-stream" {
		return fallbackMime
	}
	return detected
}

// FromBytes encodes data as a data URL with a sniffed mime type.
func FromBytes(declared string, data []byte) string {
	return EncodeDataURL(DetectMime(declared, data), data)
}

// LoadFiles reads paths concurrently and returns data URLs in input order.
func LoadFiles(ctx context.Context, paths []string) ([]string, error) {
	out := make([]string, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			out[i] = FromBytes("", data)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
