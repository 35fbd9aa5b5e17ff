// Package export packs a single snapshot into a compressed tar archive so it
// can be moved off the backup host.
package export

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// ErrInvalidIdentifier is returned for a snapshot id that does not address a snapshot.
var ErrInvalidIdentifier = errors.New("invalid snapshot identifier")

const ioBufferSize = 256 * 1024

// Options control one export.
type Options struct {
	Format Format
	Level  Level
	DryRun bool
}

// Stats summarises a finished export.
type Stats struct {
	Entries   int
	BytesRead int64
}

// Export writes the snapshot id below root to archivePath. Entries are named
// "<snapshot dir name>/<path inside snapshot>". The archive is written to a
// temp file next to archivePath and renamed into place on success.
func Export(ctx context.Context, root, id, archivePath string, opts Options) (stats Stats, retErr error) {
	if !snapshot.ValidIdentifier(id) {
		return Stats{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	srcDir := filepath.Join(root, util.DenormalizePath(id))
	info, err := os.Stat(srcDir)
	if err != nil {
		return Stats{}, fmt.Errorf("snapshot %s not found: %w", id, err)
	}
	if !info.IsDir() {
		return Stats{}, fmt.Errorf("snapshot %s is not a directory", id)
	}

	plog.Notice("EXPORT", "snapshot", id, "archive", archivePath, "format", opts.Format)
	if opts.DryRun {
		plog.Notice("[DRY RUN] EXPORT", "snapshot", id, "archive", archivePath)
		return Stats{}, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), "pgl-snapctl-*.tmp")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	stats, err = writeArchive(ctx, tmp, srcDir, path.Base(id), opts)
	if err != nil {
		return Stats{}, err
	}
	if err := tmp.Close(); err != nil {
		return Stats{}, fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return Stats{}, fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return stats, nil
}

func newCompressor(w io.Writer, opts Options) (io.WriteCloser, error) {
	switch opts.Format {
	case TarZst:
		var lvl zstd.EncoderLevel
		switch opts.Level {
		case Fastest:
			lvl = zstd.SpeedFastest
		case Better:
			lvl = zstd.SpeedBetterCompression
		case Best:
			lvl = zstd.SpeedBestCompression
		default:
			lvl = zstd.SpeedDefault
		}
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(lvl))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	case TarGz:
		var lvl int
		switch opts.Level {
		case Fastest:
			lvl = pgzip.BestSpeed
		case Better:
			lvl = 6
		case Best:
			lvl = pgzip.BestCompression
		default:
			lvl = pgzip.DefaultCompression
		}
		gw, err := pgzip.NewWriterLevel(w, lvl)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", opts.Format)
	}
}

func writeArchive(ctx context.Context, w io.Writer, srcDir, prefix string, opts Options) (stats Stats, retErr error) {
	bw := bufio.NewWriterSize(w, ioBufferSize)
	cw, err := newCompressor(bw, opts)
	if err != nil {
		return Stats{}, err
	}
	tw := tar.NewWriter(cw)
	defer func() {
		if err := tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := cw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bw.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	buf := make([]byte, ioBufferSize)
	walkErr := filepath.WalkDir(srcDir, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, absPath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", absPath, err)
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, util.NormalizePath(rel))
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", absPath, err)
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(absPath); err != nil {
				return fmt.Errorf("failed to read link %s: %w", absPath, err)
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			plog.Debug("Skipping special file", "path", absPath)
			return nil
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", name, err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		stats.Entries++

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(absPath)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", absPath, err)
		}
		defer f.Close()
		n, err := io.CopyBuffer(tw, f, buf)
		stats.BytesRead += n
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", absPath, err)
		}
		return nil
	})
	if walkErr != nil {
		return Stats{}, walkErr
	}
	return stats, nil
}

// List returns the entry names of an export archive in archive order.
func List(archivePath string, format Format) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case TarZst:
		zr, err := zstd.NewReader(bufio.NewReaderSize(f, ioBufferSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	case TarGz:
		gr, err := pgzip.NewReader(bufio.NewReaderSize(f, ioBufferSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		r = gr
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	var names []string
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		names = append(names, h.Name)
	}
}
