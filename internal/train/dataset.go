package train

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// imageExtensions are the file types picked up from class folders.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".ppm": true, ".bmp": true,
	".pgm": true, ".tif": true, ".tiff": true, ".webp": true,
}

// Sample is one labelled image file.
type Sample struct {
	Path  string
	Label int
}

// Dataset is a split laid out as <dir>/<class>/<file>.
type Dataset struct {
	Dir     string
	Classes []string
	Samples []Sample
}

// LoadFolder lists the images of a split. The label of a sample is the
// index of its folder in classes. A missing class folder contributes no
// samples; a missing split folder is an error. Files are sorted by path
// within each class.
func LoadFolder(dir string, classes []string) (*Dataset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening split %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("split %s is not a directory", dir)
	}

	ds := &Dataset{Dir: dir, Classes: classes}
	for label, class := range classes {
		var paths []string
		err := filepath.WalkDir(filepath.Join(dir, class), func(p string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(p))] {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", class, err)
		}
		slices.Sort(paths)
		for _, p := range paths {
			ds.Samples = append(ds.Samples, Sample{Path: p, Label: label})
		}
	}
	return ds, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Samples)
}

// Count returns the number of samples per class.
func (d *Dataset) Count() []int {
	counts := make([]int, len(d.Classes))
	for _, s := range d.Samples {
		counts[s.Label]++
	}
	return counts
}
