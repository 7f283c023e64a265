package geotag

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// ErrUnsupportedImage marks files the writer cannot parse as JPEG.
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Writer embeds GPS coordinates into JPEG EXIF metadata.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// EmbedLocation writes GPS latitude/longitude plus hemisphere reference tags
// into the image's EXIF block and saves the result to a derived path next to
// the input. The returned path is the authoritative file to upload.
func (w *Writer) EmbedLocation(path string, lat, lng float64) (string, error) {
	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseFile(path)
	if err != nil {
		return "", fmt.Errorf("parse %s: %v: %w", filepath.Base(path), err, ErrUnsupportedImage)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		// The image carries no EXIF block yet; start a fresh one.
		im, mErr := exifcommon.NewIfdMappingWithStandard()
		if mErr != nil {
			return "", fmt.Errorf("ifd mapping: %w", mErr)
		}
		rootIb = exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	gpsIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/GPSInfo")
	if err != nil {
		return "", fmt.Errorf("gps ifd: %w", err)
	}

	latRef, lngRef := "N", "E"
	if lat < 0 {
		latRef = "S"
	}
	if lng < 0 {
		lngRef = "W"
	}

	if err := gpsIb.SetStandardWithName("GPSVersionID", []byte{2, 3, 0, 0}); err != nil {
		return "", fmt.Errorf("set GPSVersionID: %w", err)
	}
	if err := gpsIb.SetStandardWithName("GPSLatitudeRef", latRef); err != nil {
		return "", fmt.Errorf("set GPSLatitudeRef: %w", err)
	}
	if err := gpsIb.SetStandardWithName("GPSLatitude", degrees(latRef[0], lat).Raw()); err != nil {
		return "", fmt.Errorf("set GPSLatitude: %w", err)
	}
	if err := gpsIb.SetStandardWithName("GPSLongitudeRef", lngRef); err != nil {
		return "", fmt.Errorf("set GPSLongitudeRef: %w", err)
	}
	if err := gpsIb.SetStandardWithName("GPSLongitude", degrees(lngRef[0], lng).Raw()); err != nil {
		return "", fmt.Errorf("set GPSLongitude: %w", err)
	}

	if err := sl.SetExif(rootIb); err != nil {
		return "", fmt.Errorf("apply exif: %w", err)
	}

	out := derivedPath(path)
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", out, err)
	}
	if err := sl.Write(f); err != nil {
		f.Close()
		os.Remove(out)
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("close %s: %w", out, err)
	}
	return out, nil
}

// degrees converts an absolute decimal coordinate into EXIF D/M/S form.
func degrees(orientation byte, decimal float64) exif.GpsDegrees {
	v := math.Abs(decimal)
	d := math.Floor(v)
	m := math.Floor((v - d) * 60)
	s := (v - d - m/60) * 3600
	return exif.GpsDegrees{
		Orientation: orientation,
		Degrees:     d,
		Minutes:     m,
		Seconds:     s,
	}
}

func derivedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_geo" + ext
}
