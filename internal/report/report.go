package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Writer persists finished research reports as markdown files under a
// single directory. File names are derived from the task ID and a
// timestamp so concurrent tasks never collide.
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

func (w *Writer) Dir() string {
	return w.dir
}

// Filename builds the report file name for a task. Only the first eight
// characters of the task ID are used; the timestamp disambiguates.
func Filename(taskID string, at time.Time) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("research_%s_%s.md", short, at.UTC().Format("20060102T150405"))
}

// Write stores content under the given file name and returns the full
// path and byte count.
func (w *Writer) Write(name string, content []byte) (string, int, error) {
	path, err := w.safePath(name)
	if err != nil {
		return "", 0, err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", 0, fmt.Errorf("write report: %w", err)
	}
	return path, len(content), nil
}

// Info describes one stored report.
type Info struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *Writer) List() ([]Info, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read reports dir: %w", err)
	}

	var reports []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		reports = append(reports, Info{
			Name:      e.Name(),
			Size:      fi.Size(),
			UpdatedAt: fi.ModTime(),
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].UpdatedAt.After(reports[j].UpdatedAt)
	})
	return reports, nil
}

func (w *Writer) Read(name string) ([]byte, error) {
	path, err := w.safePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return data, nil
}

// safePath rejects names that would escape the reports directory.
func (w *Writer) safePath(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid report name: %q", name)
	}
	return filepath.Join(w.dir, name), nil
}

// WordCount counts whitespace-separated tokens.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// SectionCount counts markdown headings of any level.
func SectionCount(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			n++
		}
	}
	return n
}
