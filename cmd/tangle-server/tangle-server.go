package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cbeuw/tangle/internal/common"
	"github.com/cbeuw/tangle/internal/server"
	log "github.com/sirupsen/logrus"
)

var version string

func parseBindAddr(bindAddrs []string) ([]net.Addr, error) {
	var addrs []net.Addr
	for _, addr := range bindAddrs {
		bindAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, bindAddr)
	}
	return addrs, nil
}

func main() {
	var config string
	flag.StringVar(&config, "c", "server.toml", "config: path to the configuration file or its content")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	pprofAddr := flag.String("d", "", "debug use: ip:port to be listened by pprof profiler")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	logFile := flag.String("log-file", "", "write logs to this file, rotating it as it grows")
	flag.Parse()

	if *askVersion {
		fmt.Printf("tangle-server %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}

	if err := common.SetupLogging(*verbosity, *logFile); err != nil {
		log.Fatal(err)
	}

	if *pprofAddr != "" {
		runtime.SetBlockProfileRate(5)
		go func() {
			log.Info(http.ListenAndServe(*pprofAddr, nil))
		}()
		log.Infof("pprof listening on %v", *pprofAddr)
	}

	raw, err := server.ParseConfig(config)
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}

	bindAddr, err := parseBindAddr(raw.BindAddr)
	if err != nil {
		log.Fatalf("unable to parse BindAddr: %v", err)
	}
	// in case the user hasn't specified any local address to bind to, we listen on 443
	if len(bindAddr) == 0 {
		https, _ := net.ResolveTCPAddr("tcp", ":443")
		bindAddr = []net.Addr{https}
	}

	sta, err := server.InitState(*raw, common.RealWorldState)
	if err != nil {
		log.Fatalf("unable to initialise server state: %v", err)
	}

	serveErr := make(chan error, len(bindAddr))
	var listeners []net.Listener
	for _, addr := range bindAddr {
		listener, err := sta.Transport.Listen(addr.String())
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("Listening on %v over %v", addr, sta.Transport)
		listeners = append(listeners, listener)
		go func() {
			serveErr <- server.Serve(listener, sta)
		}()
	}

	var admin *http.Server
	if sta.AdminAddr != "" {
		admin = &http.Server{Addr: sta.AdminAddr, Handler: sta.Router}
		go func() {
			if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("admin api stopped: %v", err)
			}
		}()
		log.Infof("Admin api listening on %v", sta.AdminAddr)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.Infof("Received %v, shutting down", sig)
	case err := <-serveErr:
		log.Errorf("Listener failed: %v, shutting down", err)
	}

	for _, listener := range listeners {
		listener.Close()
	}
	if admin != nil {
		admin.Close()
	}
	if err := sta.Shutdown(); err != nil {
		log.Errorf("unclean shutdown: %v", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}
