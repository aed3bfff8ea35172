package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/config"
	"github.com/jitsi/jicofo-go/pkg/focus"
	"github.com/jitsi/jicofo-go/pkg/profiling"
	"github.com/jitsi/jicofo-go/pkg/telemetry"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
)

func main() {
	// Parse command line flags. Connection flags override the config file.
	var (
		configFilePath = flag.String("config", "", "configuration file path")
		host           = flag.String("host", "", "XMPP server host")
		port           = flag.Int("port", 0, "XMPP component port")
		domain         = flag.String("domain", "", "XMPP domain")
		subdomain      = flag.String("subdomain", "", "focus component subdomain")
		secret         = flag.String("secret", "", "XMPP component secret")
		userDomain     = flag.String("user_domain", "", "domain of the focus user account")
		userName       = flag.String("user_name", "", "name of the focus user account")
		userPassword   = flag.String("user_password", "", "password of the focus user account")
		loopback       = flag.Bool("loopback", false, "run against the in-process loopback host (development)")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// Define functions that are called before exiting.
	// This is useful to stop the profiler if it's enabled.
	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(memProfile))
	}

	// Load the config file from the environment variable or path and merge
	// the connection flags over it.
	cfg, err := config.Load(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}
	mergeFlags(cfg, *host, *port, *domain, *subdomain, *secret, *userDomain, *userName, *userPassword)

	switch cfg.LogLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	// The component secret is the one setting without a usable default.
	if cfg.XMPP.Secret == "" {
		logrus.Errorf("missing component secret (pass --secret or set %s)", config.EnvSecret)
		os.Exit(1)
	}

	if cfg.Telemetry.JaegerURL != "" || cfg.Telemetry.OTLP.Host != "" {
		if _, err := telemetry.SetupTelemetry(cfg.Telemetry); err != nil {
			logrus.WithError(err).Warn("could not set up tracing")
		}
	}

	// The component wire transport belongs to the embedding deployment; this
	// binary only links the loopback host.
	if !*loopback {
		logrus.Fatal("no XMPP component transport linked into this binary, use -loopback for development")
		return
	}

	hostAdapter := xmpp.NewLoopback()
	service := focus.New(cfg, focus.Adapters{
		Session:   hostAdapter,
		Discovery: hostAdapter,
		Colibri:   colibri.NewLoopbackFactory(),
		Bridges:   hostAdapter,
		Health:    hostAdapter,
		ChatRooms: func(room jid.JID) xmpp.ChatRoom { return hostAdapter.Room(room) },
	})
	service.Start()
	logrus.Infof("focus running as %s.%s on %s:%d", cfg.XMPP.Subdomain, cfg.XMPP.Domain, cfg.XMPP.Host, cfg.XMPP.Port)

	// Handle signal interruptions.
	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	service.Stop()
	for _, function := range deferredFunctions {
		function()
	}
	os.Exit(0)
}

func mergeFlags(cfg *config.Config, host string, port int, domain, subdomain, secret, userDomain, userName, userPassword string) {
	if host != "" {
		cfg.XMPP.Host = host
	}
	if port != 0 {
		cfg.XMPP.Port = port
	}
	if domain != "" {
		cfg.XMPP.Domain = domain
	}
	if subdomain != "" {
		cfg.XMPP.Subdomain = subdomain
	}
	if secret != "" {
		cfg.XMPP.Secret = secret
	}
	if userDomain != "" {
		cfg.XMPP.UserDomain = userDomain
	}
	if userName != "" {
		cfg.XMPP.UserName = userName
	}
	if userPassword != "" {
		cfg.XMPP.UserPassword = userPassword
	}
}
