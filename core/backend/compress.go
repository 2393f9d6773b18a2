// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"compress/gzip"
	"net/http"

	"github.com/gorilla/handlers"
)

// handleCompression compresses responses for clients which accept gzip or
// deflate. The compressor sets Content-Encoding before any route runs, so
// response caches record and replay uncompressed bodies.
func (b *Backend) handleCompression(level int) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		panic("invalid compression level")
	}
	b.router.Use(func(h http.Handler) http.Handler {
		return handlers.CompressHandlerLevel(h, level)
	})
}
