package extract

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
)

// TextReader reads at most MaxBytes of a file and rejects content that is not UTF-8.
type TextReader struct {
	MaxBytes int64
}

func (r *TextReader) Read(path string) (string, error) {
	data, err := readLimited(path, r.MaxBytes)
	if err != nil {
		return "", err
	}

	// A cut at MaxBytes may split the final rune; drop the partial tail.
	if r.MaxBytes > 0 && int64(len(data)) == r.MaxBytes {
		data = trimPartialRune(data)
	}

	if !utf8.Valid(data) {
		return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, errors.New("content is not valid UTF-8"))
	}
	return string(data), nil
}

// XMLReader keeps only character data, dropping markup, comments and
// processing instructions.
type XMLReader struct {
	MaxBytes int64
}

func (r *XMLReader) Read(path string) (string, error) {
	f, err := openFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var src io.Reader = f
	if r.MaxBytes > 0 {
		src = io.LimitReader(f, r.MaxBytes)
	}

	dec := xml.NewDecoder(src)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, err)
		}
		if cd, ok := tok.(xml.CharData); ok {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.Write(cd)
		}
	}
	return sb.String(), nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeFileAccessDenied, path, err)
		}
		return nil, err
	}
	return f, nil
}

func readLimited(path string, maxBytes int64) ([]byte, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src io.Reader = f
	if maxBytes > 0 {
		src = io.LimitReader(f, maxBytes)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func trimPartialRune(data []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		if utf8.RuneStart(data[len(data)-i]) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return data[:len(data)-i]
			}
			return data
		}
	}
	return data
}
