package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/erictom97/gender-age/detections"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

var (
	allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	allowedMIME       = []string{"image/jpeg", "image/png"}
	uploadFields      = []string{"file", "image"}
)

type detectRequest struct {
	Image string `json:"image" validate:"required"`
}

// readImage extracts the uploaded image bytes from a multipart form, a JSON
// body or the raw request body, then checks they are JPEG or PNG.
func readImage(w http.ResponseWriter, r *http.Request, maxBytes int64, v *validator.Validate) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	var data []byte
	switch mediaType {
	case "application/json":
		data, err = readJSON(r, v)
	case "multipart/form-data":
		data, err = readMultipart(r, maxBytes)
	default:
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		return nil, err
	}

	if err := checkImageType(data); err != nil {
		return nil, err
	}
	return data, nil
}

func readJSON(r *http.Request, v *validator.Validate) ([]byte, error) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, tooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := v.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return decodeBase64Image(req.Image)
}

// decodeBase64Image accepts plain base64 or a data URL as produced by
// canvas.toDataURL.
func decodeBase64Image(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, fmt.Errorf("%w: malformed data URL", detections.ErrDecode)
		}
		s = s[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", detections.ErrDecode, err)
	}
	return data, nil
}

func readMultipart(r *http.Request, maxBytes int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, tooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range uploadFields {
		file, header, err = r.FormFile(field)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: no file in fields %v", ErrBadRequest, uploadFields)
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != "" && !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: extension %s", ErrUnsupportedMedia, ext)
	}

	return io.ReadAll(file)
}

// checkImageType sniffs the payload; the declared Content-Type is not
// trusted.
func checkImageType(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", detections.ErrDecode)
	}
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedMIME...) {
		return fmt.Errorf("%w: %s", ErrUnsupportedMedia, mt.String())
	}
	return nil
}
