package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"danmu/internal/config"
	"danmu/internal/danmaku"
	"danmu/internal/fileutil"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/services"
)

const (
	xmlSuffix = ".xml"
	assSuffix = ".danmu.ass"
)

// Writer persists comment artifacts for library items.
type Writer struct {
	toASS  bool
	ass    danmaku.ASSOptions
	logger *slog.Logger
}

// NewWriter builds a writer from the download settings.
func NewWriter(cfg config.Download, logger *slog.Logger) *Writer {
	return &Writer{
		toASS: cfg.ToASS,
		ass: danmaku.ASSOptions{
			FontName:       cfg.ASSFont,
			FontSize:       cfg.ASSFontSize,
			Opacity:        cfg.ASSTextOpacity,
			LineCount:      cfg.ASSLineCount,
			ScrollDuration: time.Duration(cfg.ASSSpeed) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "artifact"),
	}
}

// XMLPath returns the XML artifact location for item and provider key.
func XMLPath(item *library.Item, providerKey string) (string, bool) {
	return artifactPath(item, providerKey, xmlSuffix)
}

// ASSPath returns the subtitle artifact location for item and provider key.
func ASSPath(item *library.Item, providerKey string) (string, bool) {
	return artifactPath(item, providerKey, assSuffix)
}

func artifactPath(item *library.Item, providerKey, suffix string) (string, bool) {
	dir, stem, ok := item.ArtifactBase()
	providerKey = strings.TrimSpace(providerKey)
	if !ok || providerKey == "" {
		return "", false
	}
	return filepath.Join(dir, stem+"_"+providerKey+suffix), true
}

// Exists reports whether an XML artifact is already stored for the pair.
func (w *Writer) Exists(item *library.Item, providerKey string) bool {
	path, ok := XMLPath(item, providerKey)
	return ok && fileutil.Exists(path)
}

// Write stores data as the item's XML artifact and, when enabled, renders the
// ASS subtitle from payload. A failed conversion is logged and does not fail
// the write.
func (w *Writer) Write(ctx context.Context, item *library.Item, providerKey string, payload *danmaku.Payload, data []byte) error {
	path, ok := XMLPath(item, providerKey)
	if !ok {
		return services.Wrap(services.ErrValidation, "artifact", "resolve path", "item has no media path", nil)
	}
	if len(data) == 0 {
		return services.Wrap(services.ErrValidation, "artifact", "write xml", "refusing to write an empty document", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrExternalTool, "artifact", "write xml", "store comment document", err)
	}
	w.logger.Info("comment document stored",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("provider_key", providerKey),
		logging.String("path", path),
		logging.Int("bytes", len(data)),
	)

	if w.toASS && payload.Len() > 0 {
		if err := w.writeASS(item, providerKey, payload); err != nil {
			logging.WarnWithContext(w.logger, "ass conversion failed", "ass_conversion_failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.String("provider_key", providerKey),
				logging.Error(err),
				logging.String(logging.FieldImpact, "xml artifact kept without subtitle"),
				logging.String(logging.FieldErrorHint, "check the download.ass_* settings"),
			)
		}
	}
	return nil
}

func (w *Writer) writeASS(item *library.Item, providerKey string, payload *danmaku.Payload) error {
	path, ok := ASSPath(item, providerKey)
	if !ok {
		return fmt.Errorf("item %s has no media path", item.ID)
	}
	opts := w.ass
	opts.Title = item.Name
	data, err := payload.MarshalASS(opts)
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

// Read returns a stored XML artifact. An empty providerKey selects the first
// stored provider in key order.
func (w *Writer) Read(item *library.Item, providerKey string) ([]byte, string, error) {
	if strings.TrimSpace(providerKey) == "" {
		keys, err := w.Keys(item)
		if err != nil {
			return nil, "", err
		}
		if len(keys) == 0 {
			return nil, "", services.Wrap(services.ErrNotFound, "artifact", "read xml", "no comment document stored", nil)
		}
		providerKey = keys[0]
	}
	path, ok := XMLPath(item, providerKey)
	if !ok {
		return nil, "", services.Wrap(services.ErrValidation, "artifact", "resolve path", "item has no media path", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", services.Wrap(services.ErrNotFound, "artifact", "read xml", "no comment document stored for "+providerKey, err)
		}
		return nil, "", services.Wrap(services.ErrExternalTool, "artifact", "read xml", "read comment document", err)
	}
	return data, providerKey, nil
}

// Keys lists the provider keys with a stored XML artifact for item.
func (w *Writer) Keys(item *library.Item) ([]string, error) {
	dir, stem, ok := item.ArtifactBase()
	if !ok {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, escapeGlob(stem)+"_*"+xmlSuffix))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	prefix := stem + "_"
	keys := make([]string, 0, len(matches))
	for _, match := range matches {
		name := filepath.Base(match)
		key := strings.TrimSuffix(strings.TrimPrefix(name, prefix), xmlSuffix)
		if key == "" || strings.HasSuffix(name, assSuffix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

var globEscaper = strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
