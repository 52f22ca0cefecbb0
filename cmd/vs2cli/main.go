package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"

	"github.com/speters/vs2d/config"
	"github.com/speters/vs2d/vs2"
)

func mainLoop(exec func(line string), complete func(d prompt.Document) []prompt.Suggest) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete, prompt.OptionPrefix("vs2> ")).Run()
		return
	}
	stdinAll, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatal(err)
	}
	for _, lineb := range bytes.Split(stdinAll, []byte{'\n'}) {
		exec(string(bytes.TrimSpace(lineb)))
	}
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cfgFile := cmdline.String("f", "", "read configuration from HCL `file`")
	connTo := cmdline.String("c", "", "connection string, socket://[host]:[port] or [serialDevice]")
	verbose := cmdline.Bool("v", false, "verbose logging")
	cmdline.Parse(os.Args[1:])

	cfg := config.Default()
	if *cfgFile != "" {
		c, err := config.Read(*cfgFile)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		cfg = c
	}
	if *connTo != "" {
		cfg.Link = *connTo
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	cfg.Log.Format = config.FormatText
	logger := log.StandardLogger()
	if err := cfg.ApplyLog(logger, true); err != nil {
		log.Fatal(err)
	}

	dev := vs2.NewDevice(append(cfg.DeviceOptions(), vs2.WithDeviceLogger(logger))...)
	ctx := context.Background()
	if err := dev.Connect(ctx, cfg.Link); err != nil {
		log.Fatal(errors.ErrorStack(errors.Annotatef(err, "connect %s", cfg.Link)))
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		<-signalCh
		dev.Close()
		os.Exit(1)
	}()

	cl := &cli{dev: dev, out: os.Stdout, logger: logger}
	mainLoop(cl.executor(ctx), cl.completer())
	dev.Close()
}
