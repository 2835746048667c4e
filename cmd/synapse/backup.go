package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/synapse/internal/config"
)

// Archive layout: top-level prefixes map back to configured locations
// on restore.
const (
	archivePrefixStore   = "store"
	archivePrefixReports = "reports"
)

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: synapse backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	count := 0
	n, err := archiveFile(tw, cfg.Store.Path, path.Join(archivePrefixStore, filepath.Base(cfg.Store.Path)))
	if err != nil {
		return fmt.Errorf("backup store: %w", err)
	}
	count += n

	n, err = archiveTree(tw, cfg.Reports.Dir, archivePrefixReports)
	if err != nil {
		return fmt.Errorf("backup reports: %w", err)
	}
	count += n

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d files, %s\n", count, formatSize(size))
	return nil
}

// archiveFile adds a single file under the given archive name. A
// missing file is skipped so a fresh install still produces a valid
// archive.
func archiveFile(tw *tar.Writer, srcPath, name string) (int, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if _, err := io.Copy(tw, src); err != nil {
		return 0, err
	}
	return 1, nil
}

// archiveTree walks a directory and adds its regular files under the
// given prefix, preserving relative paths.
func archiveTree(tw *tar.Writer, root, prefix string) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	count := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		n, err := archiveFile(tw, p, path.Join(prefix, filepath.ToSlash(rel)))
		count += n
		return err
	})
	return count, err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: synapse restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dest, err := restoreTarget(cfg, hdr.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		if !overwrite {
			if _, err := os.Stat(dest); err == nil {
				return fmt.Errorf("%s already exists, add -overwrite to replace files", dest)
			}
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", dest, err)
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close %s: %w", dest, err)
		}
		restored++
	}

	fmt.Printf("Restore complete: %d files\n", restored)
	return nil
}

// restoreTarget maps an archive entry back to its on-disk location.
// Unknown prefixes and traversal attempts are rejected.
func restoreTarget(cfg *config.Config, name string) (string, error) {
	name = path.Clean(strings.TrimLeft(name, "./"))
	if name == "" || strings.HasPrefix(name, "..") {
		return "", fmt.Errorf("invalid archive entry %q", name)
	}

	prefix, rel, ok := strings.Cut(name, "/")
	if !ok || rel == "" {
		return "", nil
	}

	switch prefix {
	case archivePrefixStore:
		return filepath.Join(filepath.Dir(cfg.Store.Path), filepath.FromSlash(rel)), nil
	case archivePrefixReports:
		return filepath.Join(cfg.Reports.Dir, filepath.FromSlash(rel)), nil
	default:
		return "", nil
	}
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
