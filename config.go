package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"dummy_ocpp_cs/internal/actions"
	"dummy_ocpp_cs/internal/policy"
	"dummy_ocpp_cs/internal/session"
)

type config struct {
	host        string
	port        int
	controlPort string

	command string
	delay   time.Duration
	period  time.Duration

	callTimeout time.Duration

	authMode    policy.Mode
	authModeSet bool
	policyPath  string
	totalCost   float64
	costSet     bool

	logLevel log.Level
	logJSON  bool

	showVersion bool
}

func parseConfig(args []string, output io.Writer) (*config, error) {
	fs := flag.NewFlagSet("dummy_ocpp_cs", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		cfg                config
		delay, period      float64
		authMode, logLevel string
	)
	fs.StringVar(&cfg.host, "host", "127.0.0.1", "listen host")
	fs.IntVar(&cfg.port, "port", 9000, "listen port")
	fs.StringVar(&cfg.controlPort, "control-port", "", "control server port (default: random)")
	fs.StringVar(&cfg.command, "c", "", "command name")
	fs.StringVar(&cfg.command, "command", "", "command name")
	fs.Float64Var(&delay, "d", 0, "delay in seconds")
	fs.Float64Var(&delay, "delay", 0, "delay in seconds")
	fs.Float64Var(&period, "p", 0, "period in seconds")
	fs.Float64Var(&period, "period", 0, "period in seconds")
	fs.DurationVar(&cfg.callTimeout, "call-timeout", session.DefaultCallTimeout, "time to wait for a charge point response")
	fs.StringVar(&authMode, "auth-mode", string(policy.ModeNormal), "authorization mode: "+modeNames())
	fs.StringVar(&cfg.policyPath, "policy", "", "YAML policy file")
	fs.Float64Var(&cfg.totalCost, "total-cost", policy.DefaultTotalCost, "cost reported on TransactionEvent Updated")
	fs.StringVar(&logLevel, "log-level", "debug", "log level")
	fs.BoolVar(&cfg.logJSON, "log-json", false, "log as JSON")
	fs.BoolVar(&cfg.showVersion, "version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.NotValidf("unexpected arguments %v", fs.Args())
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	delaySet := set["d"] || set["delay"]
	periodSet := set["p"] || set["period"]
	cfg.authModeSet = set["auth-mode"]
	cfg.costSet = set["total-cost"]

	if delaySet && delay <= 0 {
		return nil, errors.NotValidf("delay %v: must be a positive number", delay)
	}
	if periodSet && period <= 0 {
		return nil, errors.NotValidf("period %v: must be a positive number", period)
	}
	if delaySet && periodSet {
		return nil, errors.NotValidf("delay and period together")
	}
	if cfg.command != "" {
		if _, ok := actions.Commands()[cfg.command]; !ok {
			return nil, errors.NotSupportedf("command %s", cfg.command)
		}
		if !delaySet && !periodSet {
			return nil, errors.NotValidf("command %s without delay or period", cfg.command)
		}
	}
	cfg.delay = seconds(delay)
	cfg.period = seconds(period)

	if cfg.callTimeout <= 0 {
		return nil, errors.NotValidf("call timeout %v", cfg.callTimeout)
	}
	if cfg.port < 0 || cfg.port > 65535 {
		return nil, errors.NotValidf("port %d", cfg.port)
	}

	mode, err := policy.ParseMode(authMode)
	if err != nil {
		return nil, err
	}
	cfg.authMode = mode

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return nil, errors.NotValidf("log level %q", logLevel)
	}
	cfg.logLevel = level
	return &cfg, nil
}

func (c *config) listenAddr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func modeNames() string {
	names := make([]string, 0, len(policy.Modes))
	for _, m := range policy.Modes {
		names = append(names, string(m))
	}
	return strings.Join(names, "|")
}
