package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"evguard/internal/config"
)

// StartFileTail follows text frame captures (one frame per line), reopening a file that was
// truncated or rotated.
func StartFileTail(ctx context.Context, cfg config.FileTailConfig, in *Ingress, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range cfg.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", cfg.StartAtEnd)
		}
		go tailFile(ctx, path, cfg.StartAtEnd, in, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, in *Ingress, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		if ctx.Err() != nil {
			if file != nil {
				_ = file.Close()
			}
			return
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err == io.EOF {
				if !BackoffSleep(ctx, 200*time.Millisecond) {
					_ = file.Close()
					return
				}
				info, statErr := os.Stat(path)
				if statErr == nil && info.Size() < offset {
					_ = file.Close()
					file = nil
					startAtEnd = false
					break
				}
				continue
			}
			if err != nil {
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(partial))
			_ = in.HandleFrameLine(ctx, partial, "file_tail")
			partial = ""
		}
	}
}
