package gateway

import (
	"encoding/base64"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// QREncoder renders content as a scannable PNG.
type QREncoder interface {
	Encode(content string) ([]byte, error)
}

type qrEncoder struct {
	size int
}

// NewQREncoder returns a QREncoder producing size x size PNGs with medium
// error correction.
func NewQREncoder(size int) QREncoder {
	if size <= 0 {
		size = defaultQRSize
	}
	return qrEncoder{size: size}
}

func (e qrEncoder) Encode(content string) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, e.size)
}

// DataURL embeds a PNG in a data: URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// Origin is the scheme and host a request arrived on.
type Origin struct {
	Scheme string
	Host   string
}

// QueryEscape leaves only ALPHA DIGIT - _ . ~ alone; browsers' URI component
// escaping additionally keeps these.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EscapeComponent escapes s the way a browser escapes a URI component, so
// reserved characters such as & : @ = + $ are percent-encoded.
func EscapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// ScanURL returns <scheme>://<host>/scan/<escaped packageID>.
func ScanURL(o Origin, packageID string) string {
	scheme := o.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + o.Host + "/scan/" + EscapeComponent(packageID)
}
