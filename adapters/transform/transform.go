// Package transform implements the CSS and JS transformers of the
// conversion pipeline on top of tdewolff/minify.
package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/ports"
)

// Minifier transforms every file of one kind found in a directory.
type Minifier struct {
	kind      conversion.Kind
	mediatype string
	m         *minify.M
}

// NewCSS returns the CSS minifier.
func NewCSS() *Minifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return &Minifier{kind: conversion.KindCSS, mediatype: "text/css", m: m}
}

// NewJS returns the JS transformer. Local identifiers are renamed and
// whitespace is stripped.
func NewJS() *Minifier {
	m := minify.New()
	m.Add("application/javascript", &js.Minifier{KeepVarNames: false})
	return &Minifier{kind: conversion.KindJS, mediatype: "application/javascript", m: m}
}

// Kind returns the kind of file handled.
func (t *Minifier) Kind() conversion.Kind {
	return t.kind
}

// Transform minifies every matching file in dir. A missing directory means
// there is nothing to do.
func (t *Minifier) Transform(ctx context.Context, dir string) ([]conversion.Output, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), t.kind.Ext()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	outputs := make([]conversion.Output, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out, err := t.m.Bytes(t.mediatype, src)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", t.kind, name, err)
		}
		outputs = append(outputs, conversion.Output{
			Name:     conversion.OutputName(t.kind, name),
			Contents: out,
		})
	}
	return outputs, nil
}

// Ensure interface compliance.
var _ ports.Transformer = (*Minifier)(nil)
