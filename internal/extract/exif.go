package extract

import (
	"strings"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/rwcarlsen/goexif/exif"
)

var exifFields = []exif.FieldName{
	exif.Make,
	exif.Model,
	exif.Software,
	exif.Artist,
	exif.Copyright,
	exif.ImageDescription,
	exif.DateTimeOriginal,
}

// ReadExif indexes an image by its descriptive EXIF tags, one per line.
// Images without EXIF data fail so they are remembered and not retried.
func ReadExif(path string) (string, error) {
	f, err := openFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, err)
	}

	var lines []string
	for _, name := range exifFields {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		val, err := tag.StringVal()
		if err != nil {
			continue
		}
		val = strings.TrimSpace(strings.TrimRight(val, "\x00"))
		if val != "" {
			lines = append(lines, val)
		}
	}
	return strings.Join(lines, "\n"), nil
}
