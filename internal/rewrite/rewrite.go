// Package rewrite reshapes the upstream configuration payload so image URLs
// point back at the proxy.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	proxyerrors "github.com/wudi/mediaproxy/internal/errors"
)

// ImagePathPrefix is appended to the origin to form the rewritten base URLs.
const ImagePathPrefix = "/t/p/"

var imageFields = []string{"images.base_url", "images.secure_base_url"}

// Rewrite sets images.base_url and images.secure_base_url to
// <origin>/t/p/ when the payload is an object whose images member is an
// object. Any other valid JSON is returned unchanged. Invalid JSON yields an
// error of kind PayloadMalformed and the caller keeps the original bytes.
func Rewrite(payload []byte, origin string) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, proxyerrors.ErrPayloadMalformed.Wrap(fmt.Errorf("invalid JSON"))
	}
	if !gjson.ParseBytes(payload).IsObject() || !gjson.GetBytes(payload, "images").IsObject() {
		return payload, nil
	}

	base := BaseURL(origin)
	out := payload
	for _, field := range imageFields {
		var err error
		out, err = sjson.SetBytes(out, field, base)
		if err != nil {
			return nil, proxyerrors.ErrPayloadMalformed.Wrap(err)
		}
	}
	return out, nil
}

// Applies reports whether an API sub-path carries the configuration payload.
func Applies(subPath string) bool {
	return strings.HasPrefix(subPath, "configuration")
}

// BaseURL returns the rewritten image base for origin.
func BaseURL(origin string) string {
	return strings.TrimRight(origin, "/") + ImagePathPrefix
}
