// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/logger"
)

// ClientError is an error reported by a client through PUT /log
type ClientError struct {
	Stack string `json:"stack"`
}

func (b *Backend) handleMeRoute() {
	if b.auth == nil {
		return
	}
	logger.FromContext(nil).Debugln("  handle route: /me GET")
	b.router.Handle("/me", b.pipeline(nil, core.OperationRead, authenticate, identify, func(ex *exchange) error {
		ex.body = ex.me
		return nil
	})).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) handleLogRoute() {
	logger.FromContext(nil).Debugln("  handle route: /log PUT")
	b.router.HandleFunc("/log", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		var clientError ClientError
		if err := json.NewDecoder(r.Body).Decode(&clientError); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"status": http.StatusBadRequest, "message": "invalid client error"})
			return
		}
		rlog.Warnln("client error reported by", r.RemoteAddr)
		for _, line := range strings.Split(clientError.Stack, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				rlog.Warnln("  ", line)
			}
		}
		writeJSON(w, http.StatusOK, true)
	}).Methods(http.MethodOptions, http.MethodPut)
}
