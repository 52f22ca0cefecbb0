package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"

	"github.com/speters/vs2d/api"
	"github.com/speters/vs2d/config"
	"github.com/speters/vs2d/vs2"
)

var cfgFile = flag.String("f", "", "read configuration from HCL `file`")
var httpServe = flag.String("s", "", "start http server at [bindtohost][:]port, overrides http.listen")
var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection, overrides link")
var verbose = flag.Bool("v", false, "verbose logging")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *cfgFile != "" {
		c, err := config.Read(*cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if *connTo != "" {
		cfg.Link = *connTo
	}
	if *httpServe != "" {
		// accept :[portnum] as well as [portnum]
		if i, err := strconv.Atoi(*httpServe); err == nil {
			*httpServe = fmt.Sprintf(":%d", i)
		}
		cfg.HTTP.Listen = *httpServe
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Errorf("sdnotify: %v", err)
	}
	return ok
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if err := cfg.ApplyLog(log.StandardLogger(), isatty.IsTerminal(os.Stderr.Fd())); err != nil {
		log.Fatal(err)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	dev := vs2.NewDevice(append(cfg.DeviceOptions(), vs2.WithDeviceLogger(log.StandardLogger()))...)

	done := make(chan os.Signal, 1)
	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		s := <-done
		log.Infof("%v received, shutting down", s)
		sdnotify(daemon.SdNotifyStopping)
		// leave the controller in its idle protocol
		if err := dev.Close(); err != nil {
			log.Error(err)
		}

		if *memprofile != "" {
			f, err := os.Create(*memprofile)
			if err != nil {
				log.Fatal("could not create memory profile: ", err)
			}
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatal("could not write memory profile: ", err)
			}
			f.Close()
		}
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		os.Exit(0)
	}()

	ctx := context.Background()
	if err := dev.Connect(ctx, cfg.Link); err != nil {
		log.Errorf("connect %s: %v", cfg.Link, err)
	} else if id, err := dev.SysDeviceIdent(ctx); err != nil {
		log.Errorf("read device ident: %v", err)
	} else {
		log.Infof("connected to %s, device id 0x%04X [%s]", cfg.Link, id.ID(), id)
	}

	router := api.NewRouter(dev, api.VersionInfo{Version: buildVersion, BuildDate: buildDate})
	h := &http.Server{Addr: cfg.HTTP.Listen, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() { log.Fatal(h.ListenAndServe()) }()
	log.Infof("http server at %s", cfg.HTTP.Listen)
	sdnotify(daemon.SdNotifyReady)

	for {
		<-dev.Done()
		<-time.After(cfg.ReconnectDelay())
		err := dev.Reconnect(ctx)
		switch {
		case errors.Is(err, vs2.ErrClosed):
			return
		case errors.Is(err, vs2.ErrNotConnected):
			// the first Connect failed before the link was known
			if err := dev.Connect(ctx, cfg.Link); err != nil {
				log.Error(err)
			} else {
				log.Infof("Connected")
			}
		case err != nil:
			log.Error(err)
		default:
			log.Infof("Reconnected")
		}
	}
}
