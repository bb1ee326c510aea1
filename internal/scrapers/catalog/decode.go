package catalog

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

var gzipMagic = []byte{0x1f, 0x8b}

// decodeBody undoes the content encodings the fetcher advertises in
// Accept-Encoding. resty already inflates gzip bodies on its own, so a gzip
// body is only decoded again if it still carries the gzip header.
func decodeBody(contentEncoding string, body []byte) ([]byte, error) {
	encodings := strings.Split(contentEncoding, ",")
	// encodings are listed in the order they were applied
	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.Reader
		switch encoding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			if !bytes.HasPrefix(body, gzipMagic) {
				continue
			}
			gz, err := gzip.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("gzip: %w", err)
			}
			reader = gz
		case "deflate":
			reader = deflateReader(body)
		case "br":
			reader = brotli.NewReader(bytes.NewReader(body))
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", encoding)
		}

		decoded, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", encoding, err)
		}
		body = decoded
	}
	return body, nil
}

// "deflate" is supposed to be zlib wrapped but plenty of servers send raw
// deflate streams.
func deflateReader(body []byte) io.Reader {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err == nil {
		return zr
	}
	return flate.NewReader(bytes.NewReader(body))
}
