// Package extract turns stored document bytes into analyzable text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupported is returned for mime types that carry no extractable text.
	ErrUnsupported = errors.New("unsupported document type for text extraction")
	// ErrNoText is returned when a supported document yields no text.
	ErrNoText = errors.New("document contains no extractable text")
)

// MimeType detects the content type from the leading bytes, without parameters.
func MimeType(data []byte) string {
	if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
		return "image/tiff"
	}
	mime, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return strings.TrimSpace(mime)
}

// Text extracts plain text according to mimeType.
func Text(mimeType string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch mimeType {
	case "text/plain":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupported)
		}
		text = string(data)
	case "application/pdf":
		text, err = pdfText(data)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract pdf text: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}
