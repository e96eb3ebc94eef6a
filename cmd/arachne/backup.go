package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/store"
)

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" && i+1 < len(args) {
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: arachne backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Fold the WAL into the database file so the copy is complete.
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := db.Checkpoint(); err != nil {
		db.Close()
		return fmt.Errorf("checkpoint store: %w", err)
	}
	db.Close()

	roots := archiveRoots(cfg.Store.Path, cfg.NATS.DataDir)
	files, err := writeArchive(outputPath, roots)
	if err != nil {
		return err
	}

	size := int64(0)
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

func runRestore(args []string) error {
	var inputPath string
	dest := "."
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-dest":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -dest")
			}
			i++
			dest = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: arachne restore -f <backup.tar.zst> [-dest <dir>] [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	roots, err := scanArchiveRoots(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	if len(roots) == 0 {
		fmt.Println("Archive is empty.")
		return nil
	}

	if !overwrite {
		for _, root := range roots {
			if _, err := os.Stat(filepath.Join(dest, root)); err == nil {
				return fmt.Errorf("%s already exists under %s, add -overwrite to replace files", root, dest)
			}
		}
	}

	files, err := extractArchive(inputPath, dest)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", files)
	return nil
}

// archiveRoots picks the directories a backup covers: the store's directory
// and the NATS data directory, collapsed when one contains the other.
func archiveRoots(storePath, natsDir string) []string {
	storeDir := filepath.Clean(filepath.Dir(storePath))
	roots := []string{storeDir}

	nats := filepath.Clean(natsDir)
	if nats == "" || nats == "." || within(nats, storeDir) {
		return roots
	}
	return append(roots, nats)
}

// within reports whether path sits inside dir (or is dir itself).
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// writeArchive tars every root into a zstd-compressed archive. Entries are
// named <root-base>/<relative-path>, so restore recreates the roots as
// top-level directories under the destination.
func writeArchive(outputPath string, roots []string) (int, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	outAbs, _ := filepath.Abs(outputPath)

	files := 0
	for _, root := range roots {
		n, err := tarRoot(tw, root, outAbs)
		if err != nil {
			return files, fmt.Errorf("archive %s: %w", root, err)
		}
		files += n
	}

	if err := tw.Close(); err != nil {
		return files, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return files, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return files, fmt.Errorf("close file: %w", err)
	}
	return files, nil
}

func tarRoot(tw *tar.Writer, root, skipAbs string) (int, error) {
	base := filepath.Base(root)
	files := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Never archive the output file into itself.
		if abs, _ := filepath.Abs(p); abs == skipAbs {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			hdr := &tar.Header{
				Name:     name + "/",
				Mode:     int64(info.Mode().Perm()),
				Typeflag: tar.TypeDir,
				ModTime:  info.ModTime(),
			}
			return tw.WriteHeader(hdr)
		case info.Mode().IsRegular():
			hdr := &tar.Header{
				Name:    name,
				Mode:    int64(info.Mode().Perm()),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			src, err := os.Open(p)
			if err != nil {
				return err
			}
			defer src.Close()
			if _, err := io.Copy(tw, src); err != nil {
				return err
			}
			files++
			return nil
		default:
			// Sockets, pipes, symlinks: nothing the daemon writes, skip.
			slog.Warn("skipping irregular file in backup", "path", p)
			return nil
		}
	})
	return files, err
}

// scanArchiveRoots reads tar headers to collect the archive's top-level
// directory names without extracting any data.
func scanArchiveRoots(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	seen := make(map[string]bool)
	var roots []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		root := topComponent(hdr.Name)
		if root != "" && !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots, nil
}

// topComponent returns the first path component of a tar entry name, empty
// for names that are unsafe to restore.
func topComponent(name string) string {
	name = strings.Trim(name, "/")
	if name == "" || name == "." || strings.HasPrefix(name, "..") {
		return ""
	}
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[:idx]
	}
	return name
}

func extractArchive(inputPath, dest string) (int, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	files := 0

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, fmt.Errorf("read tar entry: %w", err)
		}

		target, ok := safeJoin(dest, hdr.Name)
		if !ok {
			slog.Warn("skipping unsafe archive entry", "name", hdr.Name)
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return files, fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, fmt.Errorf("create dir for %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode).Perm())
			if err != nil {
				return files, fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return files, fmt.Errorf("write file %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return files, fmt.Errorf("close file %s: %w", target, err)
			}
			files++
		default:
			slog.Warn("skipping unsupported archive entry", "name", hdr.Name)
		}
	}
	return files, nil
}

// safeJoin resolves an archive entry name under dest, rejecting absolute
// paths and anything that escapes the destination.
func safeJoin(dest, name string) (string, bool) {
	name = filepath.FromSlash(strings.Trim(name, "/"))
	if name == "" {
		return "", false
	}
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(dest, cleaned), true
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
