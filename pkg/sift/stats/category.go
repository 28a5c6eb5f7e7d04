package stats

import (
	"errors"
	"fmt"
	"strings"
)

// Category is a coarse classification of a file by extension.
type Category string

// Categories, in report order.
const (
	Image    Category = "image"
	Video    Category = "video"
	Audio    Category = "audio"
	Document Category = "document"
	Other    Category = "other"
)

// Categories lists every category in the fixed report order.
var Categories = []Category{Image, Video, Audio, Document, Other}

// ErrInvalidCategory is returned by ParseCategory for an unknown name.
var ErrInvalidCategory = errors.New("invalid category")

// Extensions maps each category except Other to its extensions. Anything
// not listed here is Other.
var Extensions = map[Category][]string{
	Image: {
		".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp", ".svg", ".ico", ".heic", ".heif", ".raw",
		".cr2", ".nef", ".arw", ".dng",
	},
	Video: {
		".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg", ".3gp",
	},
	Audio: {
		".mp3", ".flac", ".wav", ".aac", ".ogg", ".wma", ".m4a", ".opus", ".aiff", ".alac", ".mid", ".midi",
	},
	Document: {
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".odt", ".ods", ".odp", ".rtf", ".txt", ".epub",
		".md", ".csv", ".pages", ".numbers", ".key",
	},
}

var byExtension = func() map[string]Category {
	m := make(map[string]Category)
	for cat, exts := range Extensions {
		for _, ext := range exts {
			m[ext] = cat
		}
	}
	return m
}()

// CategoryOf returns the category of a lower-cased extension including the
// dot.
func CategoryOf(ext string) Category {
	if cat, ok := byExtension[strings.ToLower(ext)]; ok {
		return cat
	}
	return Other
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return Other, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}
