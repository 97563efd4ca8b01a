package media

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

const (
	// exifTimeLayout is the source format of EXIF date fields.
	exifTimeLayout = "2006:01:02 15:04:05"

	monthBucketLayout = "2006-01"
	stampLayout       = "2006-01-02_15-04-05"
)

// TimestampInfo is the deterministic key fragment derived from a media item.
// FromMetadata distinguishes a capture time read from the content from the
// wall-clock fallback applied when the content carries none.
type TimestampInfo struct {
	MonthBucket  string
	Stamp        string
	Time         time.Time
	FromMetadata bool
}

// ExtractTimestamp reads the capture time embedded in the stream's EXIF
// metadata, trying DateTimeOriginal first and DateTime second. Any read or
// parse failure falls back to the current wall-clock time; the fallback is
// tagged, never silent. The reader is consumed: callers that upload the
// same bytes afterwards must supply a separate handle.
func ExtractTimestamp(r io.Reader) TimestampInfo {
	if ts, ok := captureTime(r); ok {
		return timestampAt(ts, true)
	}
	return timestampAt(time.Now(), false)
}

func captureTime(r io.Reader) (time.Time, bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return time.Time{}, false
	}

	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		ts, err := time.ParseInLocation(exifTimeLayout, strings.TrimSpace(raw), time.Local)
		if err != nil {
			continue
		}
		return ts, true
	}
	return time.Time{}, false
}

func timestampAt(ts time.Time, fromMetadata bool) TimestampInfo {
	return TimestampInfo{
		MonthBucket:  ts.Format(monthBucketLayout),
		Stamp:        ts.Format(stampLayout),
		Time:         ts,
		FromMetadata: fromMetadata,
	}
}

// DeriveKey builds the object key {prefix}/{YYYY-MM}/{YYYY-MM-DD_HH-mm-ss}{ext}.
// It is a pure function: identical inputs always produce the identical key,
// which is what duplicate detection rests on.
func DeriveKey(prefix string, ts TimestampInfo, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", strings.Trim(prefix, "/"), ts.MonthBucket, ts.Stamp, NormalizeExt(ext))
}

// NormalizeExt lowercases an extension and ensures a leading dot, defaulting
// to ".jpg" when empty.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".jpg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ExtFromName extracts a normalized extension from a client filename.
func ExtFromName(name string) string {
	return NormalizeExt(filepath.Ext(name))
}
