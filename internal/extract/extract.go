// Package extract turns files into UTF-8 text for the index.
//
// Readers are chosen by file extension. Every reader is called behind a
// recover, so a fault inside a third-party parser surfaces as an
// ErrTypeExtractionFailed error instead of taking down the caller.
package extract

import (
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/log"
)

type Reader interface {
	Read(path string) (string, error)
}

type ReaderFunc func(path string) (string, error)

func (f ReaderFunc) Read(path string) (string, error) {
	return f(path)
}

type Extractor struct {
	readers map[string]Reader
	xattrs  bool
}

func New(cfg *config.Config) *Extractor {
	e := &Extractor{
		readers: make(map[string]Reader),
		xattrs:  cfg.IndexXattrs,
	}

	text := &TextReader{MaxBytes: cfg.MaxFileBytes}
	for _, ext := range cfg.TextExts {
		e.Register(ext, text)
	}

	markup := &XMLReader{MaxBytes: cfg.MaxFileBytes}
	e.Register(".xml", markup)
	e.Register(".xhtml", markup)

	if cfg.ExtractPDF {
		e.Register(".pdf", ReaderFunc(ReadPDF))
	}
	if cfg.ExtractExif {
		for _, ext := range cfg.ImageExts {
			e.Register(ext, ReaderFunc(ReadExif))
		}
	}

	return e
}

// Register sets the reader for ext (with or without the leading dot, any case).
func (e *Extractor) Register(ext string, r Reader) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	e.readers[ext] = r
}

func (e *Extractor) Supports(path string) bool {
	_, ok := e.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract returns the text of path. Unknown extensions fail with
// ErrTypeUnsupportedFile; every other failure is ErrTypeExtractionFailed.
func (e *Extractor) Extract(path string) (text string, err error) {
	r, ok := e.readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", errdefs.NewCustomError(errdefs.ErrTypeUnsupportedFile, path, nil)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Debugf("reader panic for %s: %v\n%s", path, p, debug.Stack())
			text = ""
			err = errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, fmt.Errorf("reader panicked: %v", p))
		}
	}()

	text, err = r.Read(path)
	if err != nil {
		if errdefs.IsType(err, errdefs.ErrTypeExtractionFailed) || errdefs.IsType(err, errdefs.ErrTypeFileAccessDenied) {
			return "", err
		}
		return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, err)
	}

	if e.xattrs {
		if extra := readTags(path); extra != "" {
			text += "\n" + extra
		}
	}
	return text, nil
}
