package main

import (
	"net/http"
	"strconv"

	"github.com/serialbridge/go-uart-bridge/internal/relay"
)

// controlHandler exposes the bridge control surface over HTTP so external
// glue (e.g. a flashing front-end) can pause UART forwarding or change the
// target baud rate.
func controlHandler(b *relay.Bridge) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control/read-enable", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v, err := strconv.ParseBool(r.FormValue("enabled"))
		if err != nil {
			http.Error(w, "invalid enabled value", http.StatusBadRequest)
			return
		}
		b.EnableRead(v)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/control/baud-rate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rate, err := strconv.Atoi(r.FormValue("rate"))
		if err != nil || rate <= 0 {
			http.Error(w, "invalid rate value", http.StatusBadRequest)
			return
		}
		if err := b.SetBaudRate(rate); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
