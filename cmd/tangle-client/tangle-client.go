package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbeuw/tangle/internal/client"
	"github.com/cbeuw/tangle/internal/common"
	mux "github.com/cbeuw/tangle/internal/multiplex"
	log "github.com/sirupsen/logrus"
)

var version string

func main() {
	// Should be 127.0.0.1 to listen to applications on this machine
	var localHost string
	// port used by applications to reach tangle client
	var localPort string
	// The ip of the tangle server
	var remoteHost string
	var remotePort string
	var config string

	flag.StringVar(&localHost, "i", "127.0.0.1", "localHost: tangle listens to applications on this ip")
	flag.StringVar(&localPort, "l", "1984", "localPort: tangle listens to applications on this port")
	flag.StringVar(&remoteHost, "s", "", "remoteHost: IP or domain of your tangle server, leave empty to discover it with the configured mDNS service")
	flag.StringVar(&remotePort, "p", "443", "remotePort: port of your tangle server")
	flag.StringVar(&config, "c", "client.toml", "config: path to the configuration file, its content, or options separated with semicolons")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	logFile := flag.String("log-file", "", "write logs to this file, rotating it as it grows")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	flag.Parse()

	if *askVersion {
		fmt.Printf("tangle-client %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}

	if err := common.SetupLogging(*verbosity, *logFile); err != nil {
		log.Fatal(err)
	}

	rawConfig, err := client.ParseConfig(config)
	if err != nil {
		log.Fatal(err)
	}

	// commandline argument takes precedence over the config
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			rawConfig.LocalHost = localHost
		case "l":
			rawConfig.LocalPort = localPort
		case "s":
			rawConfig.RemoteHost = remoteHost
		case "p":
			rawConfig.RemotePort = remotePort
		}
	})
	// ones with default values
	if rawConfig.LocalHost == "" {
		rawConfig.LocalHost = localHost
	}
	if rawConfig.LocalPort == "" {
		rawConfig.LocalPort = localPort
	}
	if rawConfig.RemotePort == "" {
		rawConfig.RemotePort = remotePort
	}

	localConfig, remoteConfig, err := rawConfig.ProcessRawConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connector := client.NewConnector(remoteConfig)
	seshMaker := func() (*mux.Session, error) {
		return connector.MakeSession(ctx)
	}

	listener, err := net.Listen("tcp", localConfig.LocalAddr)
	if err != nil {
		log.Fatal(err)
	}
	if remoteConfig.Discover != nil {
		log.Infof("Listening on %v, routing to the first %v instance found over %v", localConfig.LocalAddr, remoteConfig.Discover.Service, remoteConfig.Transport)
	} else {
		log.Infof("Listening on %v, routing to %v over %v", localConfig.LocalAddr, remoteConfig.RemoteAddr, remoteConfig.Transport)
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		listener.Close()
	}()

	err = client.RouteTCP(listener, localConfig.Timeout, seshMaker)
	if ctx.Err() == nil {
		log.Errorf("Stopped accepting local connections: %v", err)
		os.Exit(1)
	}
}
