// Package conversion defines the values exchanged by the conversion pipeline.
package conversion

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies the transform applied to an upload.
type Kind string

const (
	KindCSS Kind = "css"
	KindJS  Kind = "js"
)

// Ext returns the file extension handled by the kind.
func (k Kind) Ext() string {
	return "." + string(k)
}

// Upload is a single file received from the client.
type Upload struct {
	Name string
	Kind Kind
	Open func() (io.ReadCloser, error)
}

// Output is a transformed file held in memory.
type Output struct {
	Name     string
	Contents []byte
}

// Job describes one admitted conversion batch.
type Job struct {
	ID      string
	Uploads []Upload
}

// Counts returns the number of CSS and JS uploads in the job.
func (j Job) Counts() (css, js int) {
	for _, u := range j.Uploads {
		switch u.Kind {
		case KindCSS:
			css++
		case KindJS:
			js++
		}
	}
	return css, js
}

// Files returns the total number of uploads, the unit charged against the quota.
func (j Job) Files() int {
	return len(j.Uploads)
}

// Result is the outcome of a successful conversion.
type Result struct {
	JobID       string
	ArchiveName string
	ArchivePath string
	Outputs     int
	Elapsed     time.Duration
}

// ElapsedSec returns the elapsed time in seconds rounded to two decimals.
func (r Result) ElapsedSec() float64 {
	return float64(r.Elapsed.Round(10*time.Millisecond).Milliseconds()) / 1000
}

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	ErrStaging   ErrorKind = "staging_error"
	ErrTransform ErrorKind = "transform_error"
	ErrArchive   ErrorKind = "archive_error"
)

// Error is a pipeline failure tagged with the stage that failed.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with a kind. A nil err stays nil.
func Wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the error kind, or "" when err is not a pipeline error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// SafeName reduces a client-supplied file name to its base name.
// It returns "" when nothing usable remains.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	switch base {
	case ".", "..", "/", "":
		return ""
	}
	return base
}

// OutputName derives the archive entry name for a transformed file.
func OutputName(kind Kind, name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	switch kind {
	case KindCSS:
		return base + ".min.css"
	case KindJS:
		return base + ".obf.js"
	default:
		return name
	}
}
