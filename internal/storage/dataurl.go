package storage

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBadImage wraps every data URL decoding failure.
var ErrBadImage = errors.New("invalid image payload")

// Image is a decoded photo ready to be archived.
type Image struct {
	Data        []byte
	ContentType string // e.g. image/jpeg
	Ext         string // e.g. jpg
	Hash        string // hex sha256 of Data
}

var imageExt = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/heic": "heic",
}

// DecodeDataURL parses "data:image/<type>;base64,<payload>". Payloads whose
// decoded size exceeds maxBytes are rejected.
func DecodeDataURL(s string, maxBytes int) (*Image, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: missing data: scheme", ErrBadImage)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrBadImage)
	}
	mediaType, enc, ok := strings.Cut(header, ";")
	if !ok || !strings.EqualFold(enc, "base64") {
		return nil, fmt.Errorf("%w: only base64 data URLs are accepted", ErrBadImage)
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	ext, ok := imageExt[mediaType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrBadImage, mediaType)
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+3 {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrBadImage, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrBadImage)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrBadImage, maxBytes)
	}
	sum := sha256.Sum256(data)
	return &Image{
		Data:        data,
		ContentType: mediaType,
		Ext:         ext,
		Hash:        hex.EncodeToString(sum[:]),
	}, nil
}
