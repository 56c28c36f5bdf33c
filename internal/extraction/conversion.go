package extraction

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// toPNG renders a document into the single PNG image the vision backends accept.
// PDFs are rendered from their first page.
func toPNG(doc Document) ([]byte, error) {
	contentType := normalizeContentType(doc.ContentType)
	switch {
	case contentType == "application/pdf":
		data, err := renderFirstPage(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return data, nil
	case contentType == "image/png" && !isHEIC(doc.Data, contentType):
		return doc.Data, nil
	default:
		data, err := reencode(doc.Data, contentType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return data, nil
	}
}

func renderFirstPage(data []byte) ([]byte, error) {
	pdf, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer pdf.Close()

	if pdf.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := pdf.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

func reencode(data []byte, contentType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	if isHEIC(data, contentType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	}

	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: supported formats are JPEG, PNG, HEIC, HEIF and PDF", ErrUnsupportedType)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC reports whether the data or its declared type is HEIC/HEIF.
// HEIC files carry an ftyp box at offset 4 followed by the brand.
func isHEIC(data []byte, contentType string) bool {
	if strings.Contains(contentType, "heic") || strings.Contains(contentType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
