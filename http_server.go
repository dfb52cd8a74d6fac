package main

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"dummy_ocpp_cs/internal/session"
	"dummy_ocpp_cs/internal/store"
)

func controlMux(registry *session.Registry, st *store.Store) *http.ServeMux {
	mux := http.NewServeMux()

	type endpoint struct {
		path    string
		handler http.HandlerFunc
	}
	endpoints := []endpoint{
		{
			path: "/list-db",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.AppendHeader(table.Row{"Key", "Value"})
				if err := st.Each(maxValueLen, func(key, value string) {
					t.AppendRow(table.Row{key, value})
				}); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				t.Render()
			},
		},
		{
			path: "/sessions",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.AppendHeader(table.Row{"ChargePoint", "Subprotocol", "State", "Connected At", "Pending", "Command Timer"})
				for _, cs := range registry.Sessions() {
					pending, _ := cs.PendingAction()
					t.AppendRow(table.Row{
						cs.ID(),
						cs.Subprotocol(),
						cs.State().String(),
						cs.ConnectedAt().Format(time.RFC3339),
						pending,
						describeTimer(cs),
					})
				}
				t.AppendFooter(table.Row{"Total", registry.Len()})
				t.Render()
			},
		},
		{
			path: "/send",
			handler: func(w http.ResponseWriter, r *http.Request) {
				id := r.URL.Query().Get("cp")
				action := r.URL.Query().Get("action")
				if id == "" || action == "" {
					http.Error(w, "cp and action are required", http.StatusBadRequest)
					return
				}
				cs, ok := registry.Get(id)
				if !ok {
					http.Error(w, fmt.Sprintf("Charge Point %s not connected", id), http.StatusNotFound)
					return
				}
				if err := cs.Trigger(r.Context(), action); err != nil {
					http.Error(w, err.Error(), http.StatusBadGateway)
					return
				}
				w.Write([]byte(fmt.Sprintf("%s sent to %s\n", action, id)))
			},
		},
		{
			path: "/send-all",
			handler: func(w http.ResponseWriter, r *http.Request) {
				action := r.URL.Query().Get("action")
				if action == "" {
					http.Error(w, "action is required", http.StatusBadRequest)
					return
				}
				sessions := registry.Sessions()
				results := make([]string, len(sessions))
				var wg sync.WaitGroup
				for i, cs := range sessions {
					wg.Add(1)
					go func(i int, cs *session.Session) {
						defer wg.Done()
						results[i] = "ok"
						if err := cs.Trigger(r.Context(), action); err != nil {
							results[i] = err.Error()
						}
					}(i, cs)
				}
				wg.Wait()

				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.AppendHeader(table.Row{"ChargePoint", action})
				for i, cs := range sessions {
					t.AppendRow(table.Row{cs.ID(), results[i]})
				}
				t.Render()
			},
		},
	}
	endpoints = append(endpoints, endpoint{
		path: "/list",
		handler: func(w http.ResponseWriter, r *http.Request) {
			value := "Available endpoints:\n"
			for _, v := range endpoints {
				value += fmt.Sprintf("\t%s\n", v.path)
			}
			w.Write([]byte(value))
		},
	})

	for _, e := range endpoints {
		mux.HandleFunc(e.path, e.handler)
	}
	return mux
}

func describeTimer(cs *session.Session) string {
	t := cs.CommandTimer()
	switch {
	case t == nil:
		return "-"
	case t.Retired():
		return fmt.Sprintf("retired after %d", t.Fired())
	case t.Repeating():
		return fmt.Sprintf("every %v (%d fired)", t.Interval(), t.Fired())
	default:
		return fmt.Sprintf("once in %v", t.Interval())
	}
}

func startHttpServer(controlPort string, registry *session.Registry, st *store.Store) (string, error) {
	if controlPort == "" {
		controlPort = "0"
	}

	listener, err := net.Listen("tcp", ":"+controlPort)
	if err != nil {
		return "", err
	}
	go http.Serve(listener, controlMux(registry, st))

	port := listener.Addr().String()
	appLogger.Infoln("Control Server started on port", port)
	return port, nil
}
