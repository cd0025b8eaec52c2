package frame

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
)

// Decompress decodes a payload flagged with FlagCompressed using the encoding
// advertised in the connect-content-encoding header. The output is capped at
// limit bytes.
func Decompress(payload []byte, encoding string, limit int) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return payload, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip payload: %w", err)
		}
		defer zr.Close()

		out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate gzip payload: %w", err)
		}
		if len(out) > limit {
			return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", errspkg.ErrFrameTooLarge, limit)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnsupportedEncoding, encoding)
	}
}
