package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"dummy_ocpp_cs/internal/actions"
	"dummy_ocpp_cs/internal/policy"
	"dummy_ocpp_cs/internal/server"
	"dummy_ocpp_cs/internal/session"
	"dummy_ocpp_cs/internal/store"
)

var (
	ll        = log.StandardLogger()
	appLogger = ll.WithContext(context.Background())
)

func init() {
	time.Local = time.UTC
}

func main() {
	// listen to quit signals
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println("Current App Version:", appVersion)
		os.Exit(0)
	}

	ll.SetLevel(cfg.logLevel)
	if cfg.logJSON {
		ll.SetFormatter(&log.JSONFormatter{})
	}

	st, err := store.Open("", ll.WithField("component", "store"))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	p, err := loadPolicy(cfg, st)
	if err != nil {
		appLogger.WithError(err).Fatalln("loadPolicy")
	}

	// store setup configuration
	if err := st.Update(func(txn *badger.Txn) error {
		txn.Set([]byte(StartedAtKey), []byte(time.Now().Format(time.RFC3339)))
		txn.Set([]byte(VersionKey), []byte(appVersion))
		txn.Set([]byte(ListenAddrKey), []byte(cfg.listenAddr()))
		txn.Set([]byte(SubprotocolsKey), []byte(strings.Join(server.DefaultSubprotocols, ",")))
		txn.Set([]byte(AuthModeKey), []byte(p.Mode()))
		txn.Set([]byte(TotalCostKey), []byte(fmt.Sprintf("%v", *p.TotalCost())))
		store.SetIfNotExistsTX(txn, ConnectionsKey, "0")
		store.SetIfNotExistsTX(txn, DisconnectionsKey, "0")
		return nil
	}); err != nil {
		log.Fatal(err)
	}

	registry := session.NewRegistry()
	srv, err := server.New(serverConfig(cfg, p, registry, st))
	if err != nil {
		appLogger.WithError(err).Fatalln("server.New")
	}

	listener, err := net.Listen("tcp", cfg.listenAddr())
	if err != nil {
		appLogger.WithError(err).Fatalln("Error starting WebSocket server")
	}
	httpServer := &http.Server{Handler: srv}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Errorln("WebSocket server stopped")
		}
	}()
	appLogger.WithField("addr", listener.Addr().String()).Infoln("WebSocket Server Started")

	controlPort, err := startHttpServer(cfg.controlPort, registry, st)
	if err != nil {
		appLogger.WithError(err).Fatalln("Error starting control server")
	}
	appLogger = appLogger.WithField("control_port", controlPort)

	<-signals
	go func() {
		<-signals
		fmt.Println("Forcefully shutting down...")
		st.SetKeyValue(StoppedAtKey, time.Now().Format(time.RFC3339))
		os.Exit(2)
	}()

	fmt.Println("Gracefully shutting down...")

	// stop accepting before closing what is already connected
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.WithError(err).Warnln("Shutdown")
	}
	st.SetKeyValue(StoppedAtKey, time.Now().Format(time.RFC3339))
}

func serverConfig(cfg *config, p *policy.Policy, registry *session.Registry, st *store.Store) server.Config {
	return server.Config{
		Subprotocols: server.DefaultSubprotocols,
		Command:      cfg.command,
		Delay:        cfg.delay,
		Period:       cfg.period,
		Session: session.Config{
			Actions:     actions.New(p),
			Registry:    registry,
			CallTimeout: cfg.callTimeout,
			Logger:      appLogger,
		},
		OnConnect: func(cs *session.Session) {
			recordConnection(st, ConnectionsKey, LastConnectedKey, cs.ID())
		},
		OnDisconnect: func(cs *session.Session) {
			recordConnection(st, DisconnectionsKey, LastDisconnectedKey, cs.ID())
		},
	}
}

func recordConnection(st *store.Store, counterKey, lastKey, id string) {
	if err := st.Update(func(txn *badger.Txn) error {
		if err := store.IncrementKeyTX(txn, counterKey, 1); err != nil {
			return err
		}
		return txn.Set([]byte(lastKey), []byte(id))
	}); err != nil {
		appLogger.WithError(err).WithField("cp", id).Warnln("recordConnection")
	}
}

// loadPolicy merges the policy file with the flags. Flags given on the
// command line win over the file.
func loadPolicy(cfg *config, st *store.Store) (*policy.Policy, error) {
	mode := cfg.authMode
	totalCost := cfg.totalCost
	if cfg.policyPath != "" {
		f, err := policy.LoadFile(cfg.policyPath)
		if err != nil {
			return nil, err
		}
		if err := st.AddToList(policy.WhitelistName, f.Whitelist...); err != nil {
			return nil, err
		}
		if err := st.AddToList(policy.BlacklistName, f.Blacklist...); err != nil {
			return nil, err
		}
		if !cfg.authModeSet && f.Mode != "" {
			if mode, err = policy.ParseMode(f.Mode); err != nil {
				return nil, errors.Annotatef(err, "policy file %s", cfg.policyPath)
			}
		}
		if !cfg.costSet && f.TotalCost != nil {
			totalCost = *f.TotalCost
		}
	}
	p, err := policy.New(mode, st, totalCost)
	if err != nil {
		return nil, err
	}
	appLogger.WithField("mode", p.Mode()).Infoln("Authorization policy loaded")
	return p, nil
}
